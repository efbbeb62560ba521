package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HTTPAppendConfig tunes the batched append transport.
type HTTPAppendConfig struct {
	BaseURL   string
	SessionID string
	APIKey    string

	// PostInterval is the fixed cadence at which accumulated audio is
	// base64-encoded and POSTed to the append endpoint.
	PostInterval time.Duration
}

// HTTPAppendChannel is the batched transport variant: accumulated PCM bytes
// are base64-encoded and POSTed on a fixed interval; an explicit commit call
// signals end-of-turn. Upload failures are logged and the batch dropped
// rather than retried, so sustained network loss cannot grow a retry queue.
type HTTPAppendChannel struct {
	cfg        HTTPAppendConfig
	httpClient *http.Client
	logger     zerolog.Logger

	mu  sync.Mutex
	buf []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHTTPAppendChannel creates the batched HTTP transport.
func NewHTTPAppendChannel(cfg HTTPAppendConfig, logger zerolog.Logger) *HTTPAppendChannel {
	if cfg.PostInterval <= 0 {
		cfg.PostInterval = 50 * time.Millisecond
	}
	return &HTTPAppendChannel{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Start launches the fixed-interval upload timer.
func (t *HTTPAppendChannel) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.PostInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.flush()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SendAudio accumulates PCM bytes for the next interval upload.
func (t *HTTPAppendChannel) SendAudio(pcm []byte) error {
	t.mu.Lock()
	t.buf = append(t.buf, pcm...)
	t.mu.Unlock()
	return nil
}

// CommitTurn flushes any buffered audio, then signals end-of-turn.
func (t *HTTPAppendChannel) CommitTurn() error {
	t.flush()

	if err := t.post("/commit", nil); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

// Close stops the upload timer after draining the remaining batch.
func (t *HTTPAppendChannel) Close() error {
	t.flush()
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	return nil
}

func (t *HTTPAppendChannel) flush() {
	t.mu.Lock()
	batch := t.buf
	t.buf = nil
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	payload, err := json.Marshal(struct {
		Audio string `json:"audio"`
	}{Audio: base64.StdEncoding.EncodeToString(batch)})
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to encode audio batch")
		return
	}

	if err := t.post("/append", payload); err != nil {
		// Single-shot drop: a lost batch is recoverable, a retry queue
		// under sustained loss is not.
		t.logger.Warn().Err(err).Int("bytes", len(batch)).Msg("Dropping audio batch after upload failure")
	}
}

func (t *HTTPAppendChannel) post(suffix string, body []byte) error {
	url := t.cfg.BaseURL + "/v1/sessions/" + t.cfg.SessionID + "/audio" + suffix

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Session not ready yet: a benign, expected race during startup.
		t.logger.Debug().Str("endpoint", suffix).Msg("Session not ready, discarding")
		return nil
	default:
		return fmt.Errorf("append endpoint returned status %d", resp.StatusCode)
	}
}
