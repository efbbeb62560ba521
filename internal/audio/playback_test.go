package audio

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestScheduler() (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	return NewScheduler(24000, clock, zerolog.Nop()), clock
}

func TestScheduler_GaplessScheduling(t *testing.T) {
	s, clock := newTestScheduler()

	// 4800 samples = 200ms at 24kHz.
	chunk := make([]byte, 9600)

	start1, ok := s.Schedule(chunk)
	if !ok {
		t.Fatal("Expected chunk to be scheduled")
	}
	if !start1.Equal(clock.now) {
		t.Errorf("Expected first chunk to start now, got %v", start1)
	}

	// Second chunk arrives immediately; it must start exactly at the end of
	// the first, not at now.
	start2, _ := s.Schedule(chunk)
	if want := start1.Add(200 * time.Millisecond); !start2.Equal(want) {
		t.Errorf("Expected second chunk at %v, got %v", want, start2)
	}

	// After the horizon has passed, a new chunk starts at now again.
	clock.advance(time.Second)
	start3, _ := s.Schedule(chunk)
	if !start3.Equal(clock.now) {
		t.Errorf("Expected third chunk to start now after idle gap, got %v", start3)
	}
}

func TestScheduler_StopAllClearsSourcesAndResetsHorizon(t *testing.T) {
	s, clock := newTestScheduler()
	chunk := make([]byte, 9600)

	s.Schedule(chunk)
	s.Schedule(chunk)
	if s.SourceCount() != 2 {
		t.Fatalf("Expected 2 scheduled sources, got %d", s.SourceCount())
	}

	s.StopAll()
	if s.SourceCount() != 0 {
		t.Errorf("Expected zero sources after StopAll, got %d", s.SourceCount())
	}
	if s.IsAudible() {
		t.Error("Expected not audible after StopAll")
	}

	// The next chunk starts immediately, not at the stale horizon.
	start, _ := s.Schedule(chunk)
	if !start.Equal(clock.now) {
		t.Errorf("Expected chunk to start now after StopAll, got %v", start)
	}
}

func TestScheduler_IsAudible(t *testing.T) {
	s, clock := newTestScheduler()
	chunk := make([]byte, 9600) // 200ms

	if s.IsAudible() {
		t.Error("Expected silence before scheduling")
	}

	s.Schedule(chunk)
	if !s.IsAudible() {
		t.Error("Expected audible while chunk is playing")
	}

	clock.advance(250 * time.Millisecond)
	if s.IsAudible() {
		t.Error("Expected silence after chunk finished")
	}
}

func TestScheduler_SkipsMalformedChunks(t *testing.T) {
	s, _ := newTestScheduler()

	if _, ok := s.Schedule(nil); ok {
		t.Error("Expected empty chunk to be skipped")
	}
	if _, ok := s.Schedule([]byte{1, 2, 3}); ok {
		t.Error("Expected odd-length chunk to be skipped")
	}
	if s.SourceCount() != 0 {
		t.Errorf("Expected no sources, got %d", s.SourceCount())
	}
}

func TestScheduler_OnChunkObserver(t *testing.T) {
	s, _ := newTestScheduler()

	var observed [][]byte
	s.OnChunk(func(pcm []byte, _ time.Time) {
		observed = append(observed, pcm)
	})

	s.Schedule(make([]byte, 4))
	s.Schedule([]byte{1}) // malformed, must not reach the observer

	if len(observed) != 1 {
		t.Errorf("Expected observer called once, got %d", len(observed))
	}
}
