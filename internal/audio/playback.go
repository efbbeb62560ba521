package audio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/pcm"
)

// Clock abstracts the monotonic output clock so scheduling can be tested
// without real time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real output clock.
func SystemClock() Clock { return systemClock{} }

type scheduledSource struct {
	start time.Time
	end   time.Time
}

// Scheduler decodes incoming remote PCM chunks and schedules them for
// gapless playback against a monotonic clock. Chunks arrive at irregular
// network intervals; each one starts at max(now, cumulativeScheduledEnd) so
// back-to-back chunks play with no gap and no overlap.
type Scheduler struct {
	clock      Clock
	sampleRate int
	logger     zerolog.Logger

	mu      sync.Mutex
	horizon time.Time
	sources []scheduledSource
	onChunk func(pcm []byte, start time.Time)
}

// NewScheduler creates a playback scheduler for the given remote sample rate.
func NewScheduler(sampleRate int, clock Clock, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{
		clock:      clock,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// OnChunk registers an observer for each accepted chunk. The recorder taps
// this to retain the AI track.
func (s *Scheduler) OnChunk(fn func(pcm []byte, start time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChunk = fn
}

// Schedule queues one decoded PCM16 chunk for playback and returns its start
// time. Malformed (empty or odd-length) chunks are skipped without error.
func (s *Scheduler) Schedule(chunk []byte) (time.Time, bool) {
	if len(chunk) == 0 || len(chunk)%pcm.BytesPerSample != 0 {
		s.logger.Debug().Int("bytes", len(chunk)).Msg("Skipping malformed audio chunk")
		return time.Time{}, false
	}

	duration := time.Duration(pcm.DurationSeconds(len(chunk), s.sampleRate) * float64(time.Second))

	s.mu.Lock()
	now := s.clock.Now()
	start := now
	if s.horizon.After(now) {
		start = s.horizon
	}
	end := start.Add(duration)
	s.horizon = end
	s.sources = append(s.sources, scheduledSource{start: start, end: end})
	observer := s.onChunk
	s.mu.Unlock()

	if observer != nil {
		observer(chunk, start)
	}
	return start, true
}

// StopAll force-stops every scheduled and playing source, clears the source
// set, and resets the scheduling horizon to now so the next chunk starts
// immediately rather than at a stale future time. This is the barge-in path.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = nil
	s.horizon = s.clock.Now()
}

// IsAudible reports whether any scheduled source is still active.
func (s *Scheduler) IsAudible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.sources) > 0
}

// SourceCount returns the number of sources still scheduled or playing.
func (s *Scheduler) SourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.sources)
}

func (s *Scheduler) pruneLocked() {
	now := s.clock.Now()
	live := s.sources[:0]
	for _, src := range s.sources {
		if src.end.After(now) {
			live = append(live, src)
		}
	}
	s.sources = live
}
