// Package transport delivers captured audio to the remote voice session.
// Two variants exist, selected by session configuration: a batched HTTP
// append channel and a realtime WebSocket channel negotiated through a
// signaling exchange. Both expose the same SendAudio/CommitTurn contract to
// the turn-taking arbiter.
package transport

import (
	"errors"
)

// Channel is the outbound audio contract shared by both transport variants.
type Channel interface {
	// SendAudio queues captured PCM16 bytes for delivery.
	SendAudio(pcm []byte) error

	// CommitTurn flushes buffered audio and signals end-of-turn so the
	// remote session can begin generating a response.
	CommitTurn() error

	// Close releases the transport.
	Close() error
}

// SessionConfig is the provider configuration for one remote session.
type SessionConfig struct {
	Model             string `json:"model"`
	Voice             string `json:"voice"`
	InputSampleRate   int    `json:"input_sample_rate"`
	OutputSampleRate  int    `json:"output_sample_rate"`
	TurnDetection     string `json:"turn_detection"`
	Instructions      string `json:"instructions,omitempty"`
}

// Fatal-to-start conditions reported by the remote provider.
var (
	ErrCredentialRejected  = errors.New("provider rejected credential")
	ErrQuotaExceeded       = errors.New("provider quota exceeded")
	ErrUnsupportedProvider = errors.New("unsupported provider configuration")
)
