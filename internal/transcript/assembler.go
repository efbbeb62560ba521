// Package transcript owns the ordered conversation transcript: entry
// creation, streaming text reveal, and segment finalization. Cross-speaker
// ordering is guaranteed solely by the session sequence counter, never by
// network arrival order.
package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Speaker identifies who produced a transcript segment.
type Speaker string

const (
	SpeakerHost Speaker = "host"
	SpeakerAI   Speaker = "ai"
)

// Status is the lifecycle state of a transcript entry.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusFinal     Status = "final"
)

// Entry is a single transcript segment corresponding to one turn.
type Entry struct {
	ID          string     `json:"id"`
	Speaker     Speaker    `json:"speaker"`
	Text        string     `json:"text"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Sequence    uint64     `json:"sequence"`
}

// RevealPolicy selects how incoming text becomes visible.
type RevealPolicy string

const (
	// RevealInstant appends text as soon as it arrives. Used for the local
	// speaker to minimize perceived latency.
	RevealInstant RevealPolicy = "instant"

	// RevealPaced queues text and releases one whitespace-delimited token
	// per timer tick, producing a typing effect without delaying the
	// underlying data.
	RevealPaced RevealPolicy = "paced"
)

// Config tunes the assembler.
type Config struct {
	HostPolicy     RevealPolicy
	AIPolicy       RevealPolicy
	HostRevealTick time.Duration
	AIRevealTick   time.Duration
}

// DefaultConfig mirrors the production tuning: instant host text, paced AI
// text at a few tens of milliseconds per token.
func DefaultConfig() Config {
	return Config{
		HostPolicy:     RevealInstant,
		AIPolicy:       RevealPaced,
		HostRevealTick: 25 * time.Millisecond,
		AIRevealTick:   35 * time.Millisecond,
	}
}

// Assembler maintains the ordered entry list keyed by sequence. It is the
// only component allowed to mutate transcript entries.
type Assembler struct {
	cfg     Config
	nextSeq func() uint64
	logger  zerolog.Logger

	mu       sync.Mutex
	entries  []*Entry
	active   map[Speaker]*Entry
	pending  map[Speaker]string
	onUpdate func(Entry)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an assembler drawing sequence numbers from nextSeq.
func New(cfg Config, nextSeq func() uint64, logger zerolog.Logger) *Assembler {
	return &Assembler{
		cfg:     cfg,
		nextSeq: nextSeq,
		logger:  logger,
		active:  make(map[Speaker]*Entry),
		pending: make(map[Speaker]string),
	}
}

// OnUpdate registers an observer invoked with a snapshot after every entry
// mutation.
func (a *Assembler) OnUpdate(fn func(Entry)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onUpdate = fn
}

// Start launches the per-speaker reveal timers for paced speakers.
func (a *Assembler) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	if a.cfg.HostPolicy == RevealPaced {
		a.startRevealTimer(ctx, SpeakerHost, a.cfg.HostRevealTick)
	}
	if a.cfg.AIPolicy == RevealPaced {
		a.startRevealTimer(ctx, SpeakerAI, a.cfg.AIRevealTick)
	}
}

func (a *Assembler) startRevealTimer(ctx context.Context, sp Speaker, tick time.Duration) {
	if tick <= 0 {
		tick = 35 * time.Millisecond
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.releaseOne(sp)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels both reveal timers.
func (a *Assembler) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// StartSegment ensures a streaming entry exists for the speaker and returns
// a snapshot of it. At most one entry per speaker may be streaming at any
// instant; starting a segment while the other speaker is streaming forces
// that segment to finalize first, so turn-taking stays strictly alternating
// at the transcript level.
func (a *Assembler) StartSegment(sp Speaker) Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startSegmentLocked(sp)
}

func (a *Assembler) startSegmentLocked(sp Speaker) Entry {
	if entry, ok := a.active[sp]; ok {
		return *entry
	}

	for other, entry := range a.active {
		if other != sp {
			a.finalizeLocked(other, entry)
		}
	}

	now := time.Now()
	entry := &Entry{
		ID:        uuid.New().String(),
		Speaker:   sp,
		Status:    StatusStreaming,
		StartedAt: now,
		UpdatedAt: now,
		Sequence:  a.nextSeq(),
	}
	a.entries = append(a.entries, entry)
	a.active[sp] = entry
	a.emitLocked(entry)
	return *entry
}

// AppendText queues or appends incoming text for the speaker's streaming
// segment, creating the segment if absent.
func (a *Assembler) AppendText(sp Speaker, text string) {
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.startSegmentLocked(sp)

	if a.policyFor(sp) == RevealInstant {
		entry := a.active[sp]
		entry.Text += text
		entry.UpdatedAt = time.Now()
		a.emitLocked(entry)
		return
	}

	a.pending[sp] += text
}

// FinalizeSegment flushes any queued-but-unreleased text, marks the entry
// final, and stops revealing for it. Finalizing an already-final segment
// with no new text is a no-op.
func (a *Assembler) FinalizeSegment(sp Speaker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.active[sp]
	if !ok {
		return
	}
	a.finalizeLocked(sp, entry)
}

func (a *Assembler) finalizeLocked(sp Speaker, entry *Entry) {
	if queued := a.pending[sp]; queued != "" {
		entry.Text += queued
		a.pending[sp] = ""
	}
	now := time.Now()
	entry.Status = StatusFinal
	entry.UpdatedAt = now
	entry.CompletedAt = &now
	delete(a.active, sp)
	a.emitLocked(entry)
}

// OverwriteFinal replaces the speaker's streaming text with the
// authoritative server transcript and finalizes the segment. Any locally
// queued optimistic text is discarded rather than concatenated. If no
// segment is streaming, a new one is created and finalized in place.
func (a *Assembler) OverwriteFinal(sp Speaker, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.active[sp]
	if !ok {
		if text == "" {
			return
		}
		a.startSegmentLocked(sp)
		entry = a.active[sp]
	}

	a.pending[sp] = ""
	if text != "" {
		entry.Text = text
	}
	a.finalizeLocked(sp, entry)
}

// IsStreaming reports whether the speaker has an active streaming segment.
func (a *Assembler) IsStreaming(sp Speaker) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[sp]
	return ok
}

// Entries returns a snapshot of all entries ordered by sequence.
func (a *Assembler) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	for i, e := range a.entries {
		out[i] = *e
	}
	return out
}

// Span reports the first segment start and last segment end, for
// transcript-derived session duration.
func (a *Assembler) Span() (time.Time, time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.entries) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first := a.entries[0].StartedAt
	last := a.entries[len(a.entries)-1].UpdatedAt
	for _, e := range a.entries {
		if e.CompletedAt != nil && e.CompletedAt.After(last) {
			last = *e.CompletedAt
		}
	}
	return first, last, true
}

// releaseOne moves one whitespace-delimited token from the speaker's queue
// into the visible entry text.
func (a *Assembler) releaseOne(sp Speaker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	queued := a.pending[sp]
	if queued == "" {
		return
	}
	entry, ok := a.active[sp]
	if !ok {
		// Segment finalized out from under the queue; nothing to reveal.
		a.pending[sp] = ""
		return
	}

	tok, rest := nextToken(queued)
	a.pending[sp] = rest
	entry.Text += tok
	entry.UpdatedAt = time.Now()
	a.emitLocked(entry)
}

func (a *Assembler) policyFor(sp Speaker) RevealPolicy {
	if sp == SpeakerHost {
		return a.cfg.HostPolicy
	}
	return a.cfg.AIPolicy
}

func (a *Assembler) emitLocked(entry *Entry) {
	if a.onUpdate != nil {
		a.onUpdate(*entry)
	}
}

// nextToken splits off one whitespace-delimited token, keeping the original
// spacing intact. Leading whitespace travels with the token; if no boundary
// exists yet the whole remainder is released.
func nextToken(s string) (string, string) {
	start := 0
	for start < len(s) && isSpace(s[start]) {
		start++
	}
	end := strings.IndexFunc(s[start:], func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if end < 0 {
		return s, ""
	}
	return s[:start+end], s[start+end:]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
