package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ProviderClient manages the remote session lifecycle against the voice
// provider's HTTP API.
type ProviderClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewProviderClient creates a lifecycle client for the provider API.
func NewProviderClient(baseURL, apiKey string, logger zerolog.Logger) *ProviderClient {
	return &ProviderClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// StartSession creates the remote session. A rejection here is fatal to
// session start and is surfaced to the caller, never swallowed.
func (p *ProviderClient) StartSession(ctx context.Context, sessionID string, cfg SessionConfig) error {
	payload := struct {
		SessionID string        `json:"session_id"`
		Config    SessionConfig `json:"config"`
	}{SessionID: sessionID, Config: cfg}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal session config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach provider: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("session %s: %w", sessionID, ErrCredentialRejected)
	case http.StatusTooManyRequests:
		return fmt.Errorf("session %s: %w", sessionID, ErrQuotaExceeded)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("session %s: %w: %s", sessionID, ErrUnsupportedProvider, detail)
	default:
		return fmt.Errorf("provider returned status %d creating session %s", resp.StatusCode, sessionID)
	}
}

// StopSession notifies the remote session to release server-side resources.
// Best effort: errors are logged, not surfaced.
func (p *ProviderClient) StopSession(ctx context.Context, sessionID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/v1/sessions/"+sessionID, nil)
	if err != nil {
		p.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to build session release request")
		return
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to release remote session")
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		p.logger.Warn().Int("status", resp.StatusCode).Str("session_id", sessionID).Msg("Remote session release returned non-success")
	}
}
