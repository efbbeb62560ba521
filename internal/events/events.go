// Package events ingests the push-event channels of a live voice session
// and normalizes their heterogeneous payloads into a small internal event
// vocabulary consumed by the turn-taking arbiter.
package events

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind identifies one internal engine event.
type Kind int

const (
	// KindSpeechStarted signals the host began speaking.
	KindSpeechStarted Kind = iota
	// KindSpeechStopped signals the host stopped speaking.
	KindSpeechStopped
	// KindUserTextDelta carries incremental (interim) host transcript text.
	KindUserTextDelta
	// KindUserFinalTranscript carries the authoritative complete host text.
	KindUserFinalTranscript
	// KindAITextDelta carries incremental AI transcript text.
	KindAITextDelta
	// KindAIAudioDelta carries one decoded PCM16 chunk of AI audio.
	KindAIAudioDelta
	// KindAITurnDone signals the AI response is complete.
	KindAITurnDone
	// KindStreamError carries a provider-reported error message.
	KindStreamError
)

func (k Kind) String() string {
	switch k {
	case KindSpeechStarted:
		return "speech_started"
	case KindSpeechStopped:
		return "speech_stopped"
	case KindUserTextDelta:
		return "user_text_delta"
	case KindUserFinalTranscript:
		return "user_final_transcript"
	case KindAITextDelta:
		return "ai_text_delta"
	case KindAIAudioDelta:
		return "ai_audio_delta"
	case KindAITurnDone:
		return "ai_turn_done"
	case KindStreamError:
		return "stream_error"
	}
	return "unknown"
}

// Event is one normalized engine event.
type Event struct {
	Kind  Kind
	Text  string
	Audio []byte // decoded PCM16, KindAIAudioDelta only
}

// Stream names the three push-event channels.
type Stream string

const (
	StreamAIAudio        Stream = "ai-audio"
	StreamAITranscript   Stream = "ai-transcript"
	StreamUserTranscript Stream = "user-transcript"
)

// wireMessage is the envelope shared by all three push channels.
type wireMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
	Error string `json:"error,omitempty"`
}

// Normalize parses one raw push-channel message into an internal event.
// A false return means the message carried nothing actionable; an error
// means the payload was malformed and must be skipped without corrupting
// session state.
func Normalize(stream Stream, raw []byte) (Event, bool, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, false, fmt.Errorf("unparseable %s message: %w", stream, err)
	}

	switch stream {
	case StreamAIAudio:
		return normalizeAIAudio(msg)
	case StreamAITranscript:
		return normalizeAITranscript(msg)
	case StreamUserTranscript:
		return normalizeUserTranscript(msg)
	}
	return Event{}, false, fmt.Errorf("unknown stream %q", stream)
}

func normalizeAIAudio(msg wireMessage) (Event, bool, error) {
	switch msg.Type {
	case "audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return Event{}, false, fmt.Errorf("invalid base64 audio payload: %w", err)
		}
		if len(pcm) == 0 {
			return Event{}, false, fmt.Errorf("empty decoded audio payload")
		}
		return Event{Kind: KindAIAudioDelta, Audio: pcm}, true, nil
	case "error":
		return Event{Kind: KindStreamError, Text: msg.Error}, true, nil
	default:
		return Event{}, false, nil
	}
}

func normalizeAITranscript(msg wireMessage) (Event, bool, error) {
	switch msg.Type {
	case "transcript.delta":
		if msg.Text == "" {
			return Event{}, false, nil
		}
		return Event{Kind: KindAITextDelta, Text: msg.Text}, true, nil
	case "transcript.done":
		return Event{Kind: KindAITurnDone}, true, nil
	case "error":
		return Event{Kind: KindStreamError, Text: msg.Error}, true, nil
	default:
		return Event{}, false, nil
	}
}

func normalizeUserTranscript(msg wireMessage) (Event, bool, error) {
	switch msg.Type {
	case "speech.started":
		return Event{Kind: KindSpeechStarted}, true, nil
	case "speech.stopped":
		return Event{Kind: KindSpeechStopped}, true, nil
	case "transcript.delta":
		if msg.Text == "" {
			return Event{}, false, nil
		}
		return Event{Kind: KindUserTextDelta, Text: msg.Text}, true, nil
	case "transcript.completed":
		return Event{Kind: KindUserFinalTranscript, Text: msg.Text}, true, nil
	case "error":
		return Event{Kind: KindStreamError, Text: msg.Error}, true, nil
	default:
		return Event{}, false, nil
	}
}
