// Package recorder accumulates a session's audio and transcript and, on
// session end, produces the immutable StoredConversation artifact consumed
// by downstream tooling.
package recorder

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/audio"
	"github.com/podcaststudio/realtime-engine/internal/observability"
	"github.com/podcaststudio/realtime-engine/internal/pcm"
	"github.com/podcaststudio/realtime-engine/internal/transcript"
)

// StoredConversationVersion is the artifact schema version.
const StoredConversationVersion = 1

// PaperContext identifies the research paper the conversation was held
// about.
type PaperContext struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Abstract  string `json:"abstract,omitempty"`
	Published string `json:"published,omitempty"`
	ArxivURL  string `json:"arxiv_url,omitempty"`
}

// EncodedTrack is one finished WAV audio track.
type EncodedTrack struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	Payload         []byte  `json:"payload"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// AudioTracks holds the per-speaker tracks. A track is nil when that
// speaker captured no audio.
type AudioTracks struct {
	Host *EncodedTrack `json:"host,omitempty"`
	AI   *EncodedTrack `json:"ai,omitempty"`
}

// StoredConversation is the durable session artifact: the sole cross-page
// contract. Immutable once handed to a collaborator.
type StoredConversation struct {
	Version         int                `json:"version"`
	CreatedAt       time.Time          `json:"created_at"`
	PaperContext    *PaperContext      `json:"paper_context,omitempty"`
	Transcript      []transcript.Entry `json:"transcript"`
	Audio           AudioTracks        `json:"audio"`
	DurationSeconds float64            `json:"duration_seconds"`
}

// Recorder observes the capture unit, the playback scheduler's decoded
// chunks, and the transcript assembler for one session.
type Recorder struct {
	hostRate    int
	aiRate      int
	maxAIChunks int
	logger      zerolog.Logger

	mu        sync.Mutex
	aiChunks  [][]byte
	aiDropped int
	startedAt time.Time
}

// New creates a recorder for the given track sample rates.
func New(hostRate, aiRate, maxAIChunks int, logger zerolog.Logger) *Recorder {
	if maxAIChunks <= 0 {
		maxAIChunks = 500000
	}
	return &Recorder{
		hostRate:    hostRate,
		aiRate:      aiRate,
		maxAIChunks: maxAIChunks,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

// AddAIChunk retains one decoded AI audio chunk. Ownership transfers to the
// recorder; past the cap the oldest chunks are dropped with a warning.
func (r *Recorder) AddAIChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	retained := make([]byte, len(chunk))
	copy(retained, chunk)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.aiChunks = append(r.aiChunks, retained)
	if len(r.aiChunks) > r.maxAIChunks {
		r.aiChunks = r.aiChunks[1:]
		r.aiDropped++
		observability.RecordDroppedChunk("playback_cap")
		if r.aiDropped == 1 || r.aiDropped%1000 == 0 {
			r.logger.Warn().Int("dropped_chunks", r.aiDropped).Msg("AI audio cap reached, dropping oldest chunks")
		}
	}
}

// Finalize builds the StoredConversation from the accumulated state. The
// session duration is the maximum of host audio, AI audio, the wall-clock
// timer, and the transcript-derived span, guarding against any single
// signal under-reporting true length.
func (r *Recorder) Finalize(hostChunks [][]byte, entries []transcript.Entry, wallClockSeconds float64, paper *PaperContext) (*StoredConversation, error) {
	r.mu.Lock()
	aiChunks := r.aiChunks
	r.aiChunks = nil
	r.mu.Unlock()

	hostTrack, err := encodeTrack(hostChunks, r.hostRate)
	if err != nil {
		return nil, err
	}
	aiTrack, err := encodeTrack(aiChunks, r.aiRate)
	if err != nil {
		return nil, err
	}

	duration := wallClockSeconds
	if hostTrack != nil && hostTrack.DurationSeconds > duration {
		duration = hostTrack.DurationSeconds
	}
	if aiTrack != nil && aiTrack.DurationSeconds > duration {
		duration = aiTrack.DurationSeconds
	}
	if span := transcriptSpanSeconds(entries); span > duration {
		duration = span
	}

	return &StoredConversation{
		Version:         StoredConversationVersion,
		CreatedAt:       time.Now().UTC(),
		PaperContext:    paper,
		Transcript:      entries,
		Audio:           AudioTracks{Host: hostTrack, AI: aiTrack},
		DurationSeconds: duration,
	}, nil
}

// encodeTrack concatenates retained PCM16 chunks and wraps them in a WAV
// header. A track with zero captured audio is nil rather than an empty
// file.
func encodeTrack(chunks [][]byte, sampleRate int) (*EncodedTrack, error) {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return nil, nil
	}

	payload := make([]byte, 0, total)
	for _, c := range chunks {
		payload = append(payload, c...)
	}

	wav, err := audio.EncodeWAV(payload, sampleRate)
	if err != nil {
		return nil, err
	}

	return &EncodedTrack{
		Format:          "wav",
		SampleRate:      sampleRate,
		Channels:        1,
		Payload:         wav,
		DurationSeconds: pcm.DurationSeconds(len(payload), sampleRate),
	}, nil
}

func transcriptSpanSeconds(entries []transcript.Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	first := entries[0].StartedAt
	last := entries[len(entries)-1].UpdatedAt
	for _, e := range entries {
		if e.CompletedAt != nil && e.CompletedAt.After(last) {
			last = *e.CompletedAt
		}
	}
	if last.Before(first) {
		return 0
	}
	return last.Sub(first).Seconds()
}
