package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/audio"
	"github.com/podcaststudio/realtime-engine/internal/events"
	"github.com/podcaststudio/realtime-engine/internal/pcm"
	"github.com/podcaststudio/realtime-engine/internal/transcript"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    [][]byte
	commits int
	closed  bool
}

func (f *fakeChannel) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pcm)
	return nil
}

func (f *fakeChannel) CommitTurn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func testConfig() Config {
	cfg := Config{
		CaptureSampleRate:   24000,
		PlaybackSampleRate:  24000,
		TurnDetection:       TurnDetectionServer,
		TranscriptAuthority: AuthorityServer,
		Transcript:          transcript.DefaultConfig(),
	}
	// Instant reveal on both speakers so tests observe text without timers.
	cfg.Transcript.AIPolicy = transcript.RevealInstant
	return cfg
}

func startedEngine(t *testing.T, cfg Config, ch *fakeChannel) *Engine {
	t.Helper()
	e := New(cfg, Options{
		SessionID: "sess-test",
		Channel:   ch,
		Clock:     &fixedClock{now: time.Now()},
		Logger:    zerolog.Nop(),
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { e.Stop(context.Background()) })
	return e
}

func TestHostThenAITurn(t *testing.T) {
	ch := &fakeChannel{}
	e := startedEngine(t, testConfig(), ch)

	e.Dispatch(events.Event{Kind: events.KindSpeechStarted})
	e.Dispatch(events.Event{Kind: events.KindUserTextDelta, Text: "What is attention?"})
	e.Dispatch(events.Event{Kind: events.KindSpeechStopped})
	e.Dispatch(events.Event{Kind: events.KindUserFinalTranscript, Text: "What is attention?"})

	e.Dispatch(events.Event{Kind: events.KindAITextDelta, Text: "It's a "})
	e.Dispatch(events.Event{Kind: events.KindAITextDelta, Text: "mechanism..."})
	e.Dispatch(events.Event{Kind: events.KindAITurnDone})

	entries := e.Transcript()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Speaker != transcript.SpeakerHost || entries[0].Sequence != 0 {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}
	if entries[1].Speaker != transcript.SpeakerAI || entries[1].Sequence != 1 {
		t.Errorf("Unexpected second entry: %+v", entries[1])
	}
	for i, entry := range entries {
		if entry.Status != transcript.StatusFinal {
			t.Errorf("Entry %d not final: %+v", i, entry)
		}
	}
	if entries[0].Text != "What is attention?" {
		t.Errorf("Unexpected host text: %q", entries[0].Text)
	}
	if entries[1].Text != "It's a mechanism..." {
		t.Errorf("Unexpected AI text: %q", entries[1].Text)
	}
	if ch.commitCount() != 1 {
		t.Errorf("Expected 1 turn commit, got %d", ch.commitCount())
	}
}

func TestBargeInStopsPlaybackSynchronously(t *testing.T) {
	ch := &fakeChannel{}
	e := startedEngine(t, testConfig(), ch)

	// AI mid-response with audio scheduled.
	e.Dispatch(events.Event{Kind: events.KindAITextDelta, Text: "Transformers use"})
	e.Dispatch(events.Event{Kind: events.KindAIAudioDelta, Audio: make([]byte, 24000)})
	e.Dispatch(events.Event{Kind: events.KindAIAudioDelta, Audio: make([]byte, 24000)})

	if !e.IsAISpeaking() {
		t.Fatal("Expected AI speaking before interruption")
	}
	if e.ScheduledSources() == 0 {
		t.Fatal("Expected scheduled playback sources before interruption")
	}

	e.Dispatch(events.Event{Kind: events.KindSpeechStarted})

	if e.ScheduledSources() != 0 {
		t.Errorf("Expected zero scheduled sources after barge-in, got %d", e.ScheduledSources())
	}
	if e.IsAISpeaking() {
		t.Error("Expected AI speaking flag false after barge-in")
	}

	entries := e.Transcript()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries after barge-in, got %d", len(entries))
	}
	if entries[0].Speaker != transcript.SpeakerAI || entries[0].Status != transcript.StatusFinal {
		t.Errorf("Expected forcibly finalized AI entry, got %+v", entries[0])
	}
	if entries[0].Text != "Transformers use" {
		t.Errorf("Expected AI entry to keep arrived text, got %q", entries[0].Text)
	}
	if entries[1].Speaker != transcript.SpeakerHost || entries[1].Sequence <= entries[0].Sequence {
		t.Errorf("Expected newer host entry, got %+v", entries[1])
	}
}

func TestAlternationNeverTwoStreaming(t *testing.T) {
	ch := &fakeChannel{}
	e := startedEngine(t, testConfig(), ch)

	e.Dispatch(events.Event{Kind: events.KindSpeechStarted})
	e.Dispatch(events.Event{Kind: events.KindUserTextDelta, Text: "so "})
	e.Dispatch(events.Event{Kind: events.KindAITextDelta, Text: "Let me"})

	streaming := 0
	for _, entry := range e.Transcript() {
		if entry.Status == transcript.StatusStreaming {
			streaming++
		}
	}
	if streaming > 1 {
		t.Errorf("Expected at most one streaming entry, got %d", streaming)
	}
}

func TestServerFinalOverwritesInterim(t *testing.T) {
	ch := &fakeChannel{}
	e := startedEngine(t, testConfig(), ch)

	e.Dispatch(events.Event{Kind: events.KindSpeechStarted})
	e.Dispatch(events.Event{Kind: events.KindUserTextDelta, Text: "what is at"})
	e.Dispatch(events.Event{Kind: events.KindUserFinalTranscript, Text: "What is attention?"})

	entries := e.Transcript()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Text != "What is attention?" {
		t.Errorf("Expected server text to replace interim, got %q", entries[0].Text)
	}
	if entries[0].Status != transcript.StatusFinal {
		t.Errorf("Expected final status, got %s", entries[0].Status)
	}
}

func TestDuplicateSpeechStartedIgnored(t *testing.T) {
	ch := &fakeChannel{}
	e := startedEngine(t, testConfig(), ch)

	e.Dispatch(events.Event{Kind: events.KindSpeechStarted})
	e.Dispatch(events.Event{Kind: events.KindSpeechStarted})

	if got := len(e.Transcript()); got != 1 {
		t.Errorf("Expected 1 entry after duplicate speech-started, got %d", got)
	}
}

func TestServerSpeechEventsDroppedUnderLocalDetection(t *testing.T) {
	cfg := testConfig()
	cfg.TurnDetection = TurnDetectionLocal
	ch := &fakeChannel{}
	e := startedEngine(t, cfg, ch)

	e.Dispatch(events.Event{Kind: events.KindSpeechStarted})
	if len(e.Transcript()) != 0 {
		t.Error("Expected server speech event dropped under local turn detection")
	}

	e.Dispatch(events.Event{Kind: events.KindSpeechStopped})
	if ch.commitCount() != 0 {
		t.Error("Expected no commit from dropped server speech event")
	}
}

func TestLocalVADDrivesTurns(t *testing.T) {
	cfg := testConfig()
	cfg.TurnDetection = TurnDetectionLocal
	cfg.VAD = audio.VADConfig{EnergyThreshold: 500, SilenceFrames: 2, FrameSamples: 480}
	ch := &fakeChannel{}
	e := startedEngine(t, cfg, ch)

	loud := make([]int16, 480)
	for i := range loud {
		loud[i] = 3000
	}
	e.PushAudio(pcm.Int16ToBytes(loud))

	if !e.IsHostSpeaking() {
		t.Fatal("Expected host speaking after loud frame")
	}
	if len(e.Transcript()) != 1 {
		t.Fatalf("Expected host segment from local detection, got %d entries", len(e.Transcript()))
	}

	silence := make([]int16, 480*2)
	e.PushAudio(pcm.Int16ToBytes(silence))

	if e.IsHostSpeaking() {
		t.Error("Expected host speaking false after sustained silence")
	}
	if ch.commitCount() != 1 {
		t.Errorf("Expected turn committed after silence, got %d", ch.commitCount())
	}
}

func TestStopBuildsArtifact(t *testing.T) {
	ch := &fakeChannel{}
	e := startedEngine(t, testConfig(), ch)

	e.PushAudio(make([]byte, 24000)) // 0.5s host audio
	e.Dispatch(events.Event{Kind: events.KindAIAudioDelta, Audio: make([]byte, 48000)}) // 1s AI audio
	e.Dispatch(events.Event{Kind: events.KindAITextDelta, Text: "Hello"})
	e.Dispatch(events.Event{Kind: events.KindAITurnDone})

	conv, err := e.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if conv.Audio.Host == nil || conv.Audio.AI == nil {
		t.Fatal("Expected both audio tracks in artifact")
	}
	if conv.Audio.AI.DurationSeconds != 1.0 {
		t.Errorf("Expected 1s AI track, got %v", conv.Audio.AI.DurationSeconds)
	}
	if len(conv.Transcript) != 1 || conv.Transcript[0].Status != transcript.StatusFinal {
		t.Errorf("Unexpected artifact transcript: %+v", conv.Transcript)
	}
	for i := 1; i < len(conv.Transcript); i++ {
		if conv.Transcript[i].Sequence <= conv.Transcript[i-1].Sequence {
			t.Errorf("Sequence not strictly increasing at index %d", i)
		}
	}

	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if !closed {
		t.Error("Expected transmission channel closed on stop")
	}
	if e.Phase() != PhaseStopping {
		t.Errorf("Unexpected phase after stop: %s", e.Phase())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	ch := &fakeChannel{}
	e := startedEngine(t, testConfig(), ch)

	e.Dispatch(events.Event{Kind: events.KindAITextDelta, Text: "Hi"})

	first, err := e.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	second, err := e.Stop(context.Background())
	if err != nil {
		t.Fatalf("Second Stop() failed: %v", err)
	}
	if first != second {
		t.Error("Expected repeated Stop to return the same artifact")
	}
}

func TestTranscriptObserverUnregister(t *testing.T) {
	ch := &fakeChannel{}
	e := startedEngine(t, testConfig(), ch)

	var first, second int
	unsubscribe := e.OnTranscriptUpdate(func(transcript.Entry) { first++ })
	e.OnTranscriptUpdate(func(transcript.Entry) { second++ })

	e.Dispatch(events.Event{Kind: events.KindSpeechStarted})
	if first == 0 || second == 0 {
		t.Fatalf("Expected both observers notified, got %d and %d", first, second)
	}

	firstBefore, secondBefore := first, second
	unsubscribe()

	e.Dispatch(events.Event{Kind: events.KindUserTextDelta, Text: "still going"})
	if first != firstBefore {
		t.Errorf("Unregistered observer still notified: %d -> %d", firstBefore, first)
	}
	if second <= secondBefore {
		t.Error("Expected remaining observer to keep receiving updates")
	}
}

func TestEventsDroppedBeforeLive(t *testing.T) {
	ch := &fakeChannel{}
	e := New(testConfig(), Options{
		SessionID: "sess-idle",
		Channel:   ch,
		Clock:     &fixedClock{now: time.Now()},
		Logger:    zerolog.Nop(),
	})

	e.Dispatch(events.Event{Kind: events.KindSpeechStarted})
	if len(e.Transcript()) != 0 {
		t.Error("Expected events dropped while idle")
	}
}
