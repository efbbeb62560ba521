package events

import (
	"encoding/base64"
	"testing"
)

func TestNormalize_AIAudioDelta(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	raw := []byte(`{"type":"audio.delta","audio":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`)

	ev, ok, err := Normalize(StreamAIAudio, raw)
	if err != nil || !ok {
		t.Fatalf("Normalize() failed: ok=%v err=%v", ok, err)
	}
	if ev.Kind != KindAIAudioDelta {
		t.Errorf("Expected KindAIAudioDelta, got %v", ev.Kind)
	}
	if len(ev.Audio) != 4 || ev.Audio[0] != 0x01 {
		t.Errorf("Unexpected decoded audio: %v", ev.Audio)
	}
}

func TestNormalize_AIAudioInvalidBase64(t *testing.T) {
	_, ok, err := Normalize(StreamAIAudio, []byte(`{"type":"audio.delta","audio":"!!!not-base64!!!"}`))
	if err == nil {
		t.Error("Expected error for invalid base64")
	}
	if ok {
		t.Error("Expected no event for invalid payload")
	}
}

func TestNormalize_AIAudioEmptyPayload(t *testing.T) {
	_, ok, err := Normalize(StreamAIAudio, []byte(`{"type":"audio.delta","audio":""}`))
	if err == nil || ok {
		t.Error("Expected empty decoded audio to be rejected")
	}
}

func TestNormalize_AITranscript(t *testing.T) {
	ev, ok, _ := Normalize(StreamAITranscript, []byte(`{"type":"transcript.delta","text":"It's a mechanism"}`))
	if !ok || ev.Kind != KindAITextDelta || ev.Text != "It's a mechanism" {
		t.Errorf("Unexpected event: ok=%v %+v", ok, ev)
	}

	ev, ok, _ = Normalize(StreamAITranscript, []byte(`{"type":"transcript.done"}`))
	if !ok || ev.Kind != KindAITurnDone {
		t.Errorf("Expected turn done, got ok=%v %+v", ok, ev)
	}

	// Empty deltas carry nothing actionable.
	_, ok, err := Normalize(StreamAITranscript, []byte(`{"type":"transcript.delta","text":""}`))
	if ok || err != nil {
		t.Errorf("Expected empty delta ignored, got ok=%v err=%v", ok, err)
	}
}

func TestNormalize_UserTranscriptSubEvents(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
		text string
	}{
		{`{"type":"speech.started"}`, KindSpeechStarted, ""},
		{`{"type":"speech.stopped"}`, KindSpeechStopped, ""},
		{`{"type":"transcript.delta","text":"what is"}`, KindUserTextDelta, "what is"},
		{`{"type":"transcript.completed","text":"What is attention?"}`, KindUserFinalTranscript, "What is attention?"},
	}

	for _, tc := range cases {
		ev, ok, err := Normalize(StreamUserTranscript, []byte(tc.raw))
		if err != nil || !ok {
			t.Errorf("Normalize(%s) failed: ok=%v err=%v", tc.raw, ok, err)
			continue
		}
		if ev.Kind != tc.kind {
			t.Errorf("Normalize(%s): expected kind %v, got %v", tc.raw, tc.kind, ev.Kind)
		}
		if ev.Text != tc.text {
			t.Errorf("Normalize(%s): expected text %q, got %q", tc.raw, tc.text, ev.Text)
		}
	}
}

func TestNormalize_MalformedJSON(t *testing.T) {
	_, ok, err := Normalize(StreamUserTranscript, []byte(`{not json`))
	if err == nil {
		t.Error("Expected error for malformed JSON")
	}
	if ok {
		t.Error("Expected no event for malformed JSON")
	}
}

func TestNormalize_UnknownTypeIgnored(t *testing.T) {
	_, ok, err := Normalize(StreamAITranscript, []byte(`{"type":"heartbeat"}`))
	if ok || err != nil {
		t.Errorf("Expected unknown type ignored without error, got ok=%v err=%v", ok, err)
	}
}

func TestNormalize_ErrorEvents(t *testing.T) {
	ev, ok, _ := Normalize(StreamAIAudio, []byte(`{"type":"error","error":"quota exceeded"}`))
	if !ok || ev.Kind != KindStreamError || ev.Text != "quota exceeded" {
		t.Errorf("Unexpected error event: ok=%v %+v", ok, ev)
	}
}
