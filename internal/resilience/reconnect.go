// Package resilience provides reconnection with exponential backoff for the
// long-lived push-event streams. A stream disconnect is a transient,
// non-fatal condition: the session keeps running while the stream recovers.
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig holds configuration for reconnection logic.
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of reconnection attempts
	Backoff     time.Duration // Initial backoff between attempts
	Multiplier  float64       // Backoff multiplier for exponential growth
	MaxBackoff  time.Duration // Ceiling on the backoff duration
}

// DefaultReconnectConfig returns a default reconnection configuration.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// ReconnectFunc is one reconnection attempt.
type ReconnectFunc func() error

// Reconnect runs fn with exponential backoff until it succeeds, the attempt
// budget is exhausted, or the context is cancelled.
func Reconnect(ctx context.Context, fn ReconnectFunc, cfg ReconnectConfig, logger zerolog.Logger) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultReconnectConfig()
	}

	backoff := cfg.Backoff

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Info().Int("attempts", attempt+1).Msg("Reconnected")
			}
			return nil
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Reconnection attempt failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts", cfg.MaxAttempts)
}
