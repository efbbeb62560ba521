// Package stt provides the local transcription path. When the session is
// configured for local transcript authority, captured host audio is
// mirrored to a streaming speech-to-text provider and its results drive
// the host transcript instead of the remote session's.
package stt

// Result is one streaming transcription result.
type Result struct {
	// Text is the transcribed text for the current utterance window.
	Text string

	// IsFinal marks the result as stable; interim results may be revised.
	IsFinal bool

	// SpeechStarted and SpeechEnded mark voice-activity boundaries when
	// the provider reports them.
	SpeechStarted bool
	SpeechEnded   bool

	// Confidence is the provider's confidence score, 0 when unavailable.
	Confidence float64
}

// Transcriber is a streaming speech-to-text session.
type Transcriber interface {
	// Start opens the streaming session.
	Start() error

	// SendAudio forwards one PCM16 chunk for transcription.
	SendAudio(pcm []byte) error

	// Results returns the stream of transcription results. Closed when
	// the transcriber shuts down.
	Results() <-chan *Result

	// Stop ends the current session, flushing any pending results.
	Stop() error

	// Close releases the underlying connection.
	Close() error
}
