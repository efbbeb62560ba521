// Package audio implements the session audio path: microphone capture
// batching, gapless playback scheduling, voice activity detection, and
// WAV encoding of retained tracks.
package audio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/observability"
)

// BatchSink receives accumulated capture batches for transmission to the
// remote session.
type BatchSink interface {
	SendAudio(pcm []byte) error
}

// CaptureConfig tunes the capture unit.
type CaptureConfig struct {
	// BatchBytes is the threshold at which a batch is handed to the sink,
	// tuned to roughly 100-150ms of audio at the capture sample rate.
	BatchBytes int

	// FlushInterval drains a partial batch even when the threshold has not
	// been reached, so a quiet speaker still transmits promptly.
	FlushInterval time.Duration

	// MaxRetainedChunks caps the full-session recording copy. Past the cap
	// the oldest chunks are dropped; an accepted lossy behavior for
	// sessions running beyond several hours.
	MaxRetainedChunks int

	SampleRate int
}

// CaptureUnit turns live microphone frames into an outbound byte stream and
// a retained recording copy.
type CaptureUnit struct {
	cfg    CaptureConfig
	sink   BatchSink
	logger zerolog.Logger

	mu             sync.Mutex
	batch          []byte
	retained       [][]byte
	retainedBytes  int
	droppedChunks  int
	captured       bool
	onFirstAudio   func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCaptureUnit creates a capture unit feeding the given sink.
func NewCaptureUnit(cfg CaptureConfig, sink BatchSink, logger zerolog.Logger) *CaptureUnit {
	if cfg.BatchBytes <= 0 {
		cfg.BatchBytes = 5760 // ~120ms at 24kHz mono PCM16
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 150 * time.Millisecond
	}
	if cfg.MaxRetainedChunks <= 0 {
		cfg.MaxRetainedChunks = 500000
	}
	return &CaptureUnit{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
	}
}

// OnFirstAudio registers a one-time signal raised the first time any audio
// is captured. Used to gate export actions.
func (c *CaptureUnit) OnFirstAudio(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFirstAudio = fn
}

// Start launches the periodic flush timer.
func (c *CaptureUnit) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Flush()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Push ingests one microphone frame. The frame is batched for transmission
// and unconditionally appended to the retained recording copy.
func (c *CaptureUnit) Push(frame []byte) {
	if len(frame) == 0 {
		return
	}

	c.mu.Lock()
	c.batch = append(c.batch, frame...)

	retained := make([]byte, len(frame))
	copy(retained, frame)
	c.retained = append(c.retained, retained)
	c.retainedBytes += len(retained)
	if len(c.retained) > c.cfg.MaxRetainedChunks {
		c.retainedBytes -= len(c.retained[0])
		c.retained = c.retained[1:]
		c.droppedChunks++
		observability.RecordDroppedChunk("capture_cap")
		if c.droppedChunks == 1 || c.droppedChunks%1000 == 0 {
			c.logger.Warn().
				Int("dropped_chunks", c.droppedChunks).
				Msg("Retained audio cap reached, dropping oldest chunks")
		}
	}

	first := !c.captured
	c.captured = true
	firstFn := c.onFirstAudio

	var flushNow []byte
	if len(c.batch) >= c.cfg.BatchBytes {
		flushNow = c.batch
		c.batch = nil
	}
	c.mu.Unlock()

	if first && firstFn != nil {
		firstFn()
	}
	if flushNow != nil {
		c.send(flushNow)
	}
}

// Flush hands any partially accumulated batch to the sink.
func (c *CaptureUnit) Flush() {
	c.mu.Lock()
	batch := c.batch
	c.batch = nil
	c.mu.Unlock()

	if len(batch) > 0 {
		c.send(batch)
	}
}

func (c *CaptureUnit) send(batch []byte) {
	if c.sink == nil {
		return
	}
	if err := c.sink.SendAudio(batch); err != nil {
		// Upload failures are dropped, not retried (spec'd policy for
		// sustained network loss).
		c.logger.Warn().Err(err).Int("bytes", len(batch)).Msg("Dropping audio batch after send failure")
	}
}

// Stop cancels the flush timer and sends the final partial batch.
func (c *CaptureUnit) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.Flush()
}

// HasCaptured reports whether any audio has been captured this session.
func (c *CaptureUnit) HasCaptured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captured
}

// Retained returns the retained recording chunks in capture order. The
// caller takes ownership; the internal buffer is released.
func (c *CaptureUnit) Retained() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunks := c.retained
	c.retained = nil
	c.retainedBytes = 0
	return chunks
}

// RetainedBytes reports the current size of the recording copy.
func (c *CaptureUnit) RetainedBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retainedBytes
}

// SampleRate returns the capture sample rate.
func (c *CaptureUnit) SampleRate() int {
	return c.cfg.SampleRate
}
