// Package engine hosts one live conversation session: it arbitrates
// turn-taking between the host and the AI, routes normalized push events to
// the transcript assembler and the playback scheduler, and tears the
// session down into a stored conversation artifact.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/audio"
	"github.com/podcaststudio/realtime-engine/internal/events"
	"github.com/podcaststudio/realtime-engine/internal/observability"
	"github.com/podcaststudio/realtime-engine/internal/recorder"
	"github.com/podcaststudio/realtime-engine/internal/stt"
	"github.com/podcaststudio/realtime-engine/internal/transcript"
	"github.com/podcaststudio/realtime-engine/internal/transport"
)

// Phase is the session connection phase.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreparing Phase = "preparing"
	PhaseLive      Phase = "live"
	PhaseStopping  Phase = "stopping"
)

// Turn detection strategies.
const (
	TurnDetectionServer = "server"
	TurnDetectionLocal  = "local"
)

// Transcript authority: exactly one source drives the host transcript per
// session. The precedence between simultaneous server and local
// transcription is an explicit configuration choice, never a heuristic.
const (
	AuthorityServer = "server"
	AuthorityLocal  = "local"
)

// Config tunes one session engine.
type Config struct {
	CaptureSampleRate  int
	PlaybackSampleRate int

	// TurnDetection selects who decides speech boundaries: the remote
	// session's user-transcript channel or the local energy detector.
	TurnDetection string

	// TranscriptAuthority selects which transcription source owns the host
	// transcript.
	TranscriptAuthority string

	Capture    audio.CaptureConfig
	VAD        audio.VADConfig
	Transcript transcript.Config

	MaxAIChunks int
}

// Options carries the session collaborators assembled by the gateway.
type Options struct {
	SessionID string
	Channel   transport.Channel

	// Events is the merged push-event stream. Nil in tests that drive
	// Dispatch directly.
	Events <-chan events.Event

	// Transcriber is the local transcription session, nil unless
	// TranscriptAuthority is local.
	Transcriber stt.Transcriber

	// CloseStreams closes the push-event subscriptions during teardown.
	CloseStreams func()

	// ReleaseRemote notifies the remote session to free server-side
	// resources. Best effort.
	ReleaseRemote func(ctx context.Context)

	Paper   *recorder.PaperContext
	Clock   audio.Clock
	Metrics *observability.SessionMetrics
	Logger  zerolog.Logger
}

// Engine is the per-session arbiter. Host and AI activity are tracked as
// independent speaking flags rather than one exclusive enum: audio can
// briefly overlap during barge-in even though transcript segments cannot.
type Engine struct {
	cfg  Config
	opts Options

	capture   *audio.CaptureUnit
	scheduler *audio.Scheduler
	assembler *transcript.Assembler
	recorder  *recorder.Recorder
	vad       *audio.VADDetector

	seq atomic.Uint64

	mu            sync.Mutex
	phase         Phase
	hostSpeaking  bool
	aiSpeaking    bool
	aiInterrupted bool
	startedAt     time.Time
	conversation  *recorder.StoredConversation

	obsMu     sync.Mutex
	obsSeq    uint64
	observers []transcriptObserver

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a session engine from its collaborators.
func New(cfg Config, opts Options) *Engine {
	logger := opts.Logger.With().Str("session_id", opts.SessionID).Logger()
	opts.Logger = logger

	e := &Engine{
		cfg:       cfg,
		opts:      opts,
		phase:     PhaseIdle,
		scheduler: audio.NewScheduler(cfg.PlaybackSampleRate, opts.Clock, logger),
		recorder:  recorder.New(cfg.CaptureSampleRate, cfg.PlaybackSampleRate, cfg.MaxAIChunks, logger),
	}

	captureCfg := cfg.Capture
	captureCfg.SampleRate = cfg.CaptureSampleRate
	e.capture = audio.NewCaptureUnit(captureCfg, opts.Channel, logger)

	e.assembler = transcript.New(cfg.Transcript, func() uint64 {
		return e.seq.Add(1) - 1
	}, logger)

	if cfg.TurnDetection == TurnDetectionLocal {
		e.vad = audio.NewVADDetector(cfg.VAD)
	}

	// The recorder taps every chunk the scheduler accepts, so the stored AI
	// track matches exactly what was scheduled for playback.
	e.scheduler.OnChunk(func(pcm []byte, _ time.Time) {
		e.recorder.AddAIChunk(pcm)
	})

	return e
}

// Start brings the session live. Any error here is fatal to start: the
// session never reaches the live phase and the caller surfaces the failure.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != PhaseIdle {
		phase := e.phase
		e.mu.Unlock()
		return fmt.Errorf("cannot start session in phase %s", phase)
	}
	e.phase = PhasePreparing
	e.startedAt = time.Now()
	e.mu.Unlock()

	ctx, e.cancel = context.WithCancel(ctx)

	if e.opts.Transcriber != nil {
		if err := e.opts.Transcriber.Start(); err != nil {
			e.setPhase(PhaseIdle)
			return fmt.Errorf("failed to start local transcription: %w", err)
		}
	}

	e.assembler.Start(ctx)
	e.capture.Start(ctx)
	if starter, ok := e.opts.Channel.(interface{ Start(context.Context) }); ok {
		starter.Start(ctx)
	}

	if e.opts.Events != nil {
		e.wg.Add(1)
		go e.eventLoop(ctx)
	}
	if e.opts.Transcriber != nil {
		e.wg.Add(1)
		go e.transcriptionLoop(ctx)
	}

	e.setPhase(PhaseLive)
	e.opts.Logger.Info().
		Str("turn_detection", e.cfg.TurnDetection).
		Str("transcript_authority", e.cfg.TranscriptAuthority).
		Msg("Session live")
	return nil
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// Phase returns the current connection phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) eventLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case ev, ok := <-e.opts.Events:
			if !ok {
				return
			}
			e.Dispatch(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) transcriptionLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case res, ok := <-e.opts.Transcriber.Results():
			if !ok {
				return
			}
			if res == nil || res.Text == "" {
				continue
			}
			if res.IsFinal {
				e.dispatchLocal(events.Event{Kind: events.KindUserFinalTranscript, Text: res.Text})
			} else {
				e.dispatchLocal(events.Event{Kind: events.KindUserTextDelta, Text: res.Text})
			}
		case <-ctx.Done():
			return
		}
	}
}

// PushAudio ingests one captured host frame: it is batched for
// transmission, retained for recording, analyzed for local speech
// boundaries, and mirrored to the local transcriber when one is active.
func (e *Engine) PushAudio(frame []byte) {
	if e.Phase() != PhaseLive {
		return
	}

	e.capture.Push(frame)

	if e.vad != nil {
		started, ended := e.vad.ProcessBytes(frame)
		if started {
			e.dispatchLocal(events.Event{Kind: events.KindSpeechStarted})
		}
		if ended {
			e.dispatchLocal(events.Event{Kind: events.KindSpeechStopped})
		}
	}

	if e.opts.Transcriber != nil {
		if err := e.opts.Transcriber.SendAudio(frame); err != nil {
			e.opts.Logger.Warn().Err(err).Msg("Failed to mirror audio to local transcription")
		}
	}
}

// Dispatch feeds one server-originated push event to the state machine.
// Events belonging to a strategy the session is not configured for are
// dropped here, so exactly one source drives speech boundaries and exactly
// one source drives the host transcript.
func (e *Engine) Dispatch(ev events.Event) {
	switch ev.Kind {
	case events.KindSpeechStarted, events.KindSpeechStopped:
		if e.cfg.TurnDetection == TurnDetectionLocal {
			return
		}
	case events.KindUserTextDelta, events.KindUserFinalTranscript:
		if e.cfg.TranscriptAuthority == AuthorityLocal {
			return
		}
	}
	e.handleEvent(ev)
}

// dispatchLocal feeds one locally-originated event (energy detector or
// local transcription) to the state machine.
func (e *Engine) dispatchLocal(ev events.Event) {
	e.handleEvent(ev)
}

// handleEvent applies one transition. Serialized by the engine mutex, so
// no two events can race on session state and barge-in completes
// synchronously before the next event is observed.
func (e *Engine) handleEvent(ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseLive {
		return
	}

	switch ev.Kind {
	case events.KindSpeechStarted:
		if e.hostSpeaking {
			return
		}
		e.hostSpeaking = true

		// Barge-in: AI audio already in flight would stay audible for a few
		// hundred milliseconds after the host starts talking unless it is
		// stopped here, before this handler returns.
		if e.aiSpeaking || e.assembler.IsStreaming(transcript.SpeakerAI) {
			e.scheduler.StopAll()
			e.assembler.FinalizeSegment(transcript.SpeakerAI)
			e.aiSpeaking = false
			e.aiInterrupted = true
			if e.opts.Metrics != nil {
				e.opts.Metrics.RecordBargeIn()
			}
			e.opts.Logger.Debug().Msg("Host barge-in, AI playback stopped")
		}
		e.assembler.StartSegment(transcript.SpeakerHost)

	case events.KindSpeechStopped:
		if !e.hostSpeaking {
			return
		}
		e.hostSpeaking = false
		if err := e.opts.Channel.CommitTurn(); err != nil {
			e.opts.Logger.Warn().Err(err).Msg("Failed to commit turn")
		}

	case events.KindUserTextDelta:
		e.assembler.AppendText(transcript.SpeakerHost, ev.Text)

	case events.KindUserFinalTranscript:
		// The authoritative text replaces any optimistic interim text.
		e.assembler.OverwriteFinal(transcript.SpeakerHost, ev.Text)

	case events.KindAITextDelta:
		e.aiInterrupted = false
		e.assembler.AppendText(transcript.SpeakerAI, ev.Text)

	case events.KindAIAudioDelta:
		e.aiInterrupted = false
		e.aiSpeaking = true
		e.assembler.StartSegment(transcript.SpeakerAI)
		e.scheduler.Schedule(ev.Audio)
		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordAudioBytes("out", int64(len(ev.Audio)))
		}

	case events.KindAITurnDone:
		e.assembler.FinalizeSegment(transcript.SpeakerAI)
		e.aiSpeaking = false

	case events.KindStreamError:
		e.opts.Logger.Warn().Str("detail", ev.Text).Msg("Push stream reported error")
	}
}

// IsHostSpeaking reports the host speaking flag.
func (e *Engine) IsHostSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hostSpeaking
}

// IsAISpeaking reports the AI speaking flag.
func (e *Engine) IsAISpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aiSpeaking
}

// ScheduledSources reports how many AI audio sources are still scheduled.
func (e *Engine) ScheduledSources() int {
	return e.scheduler.SourceCount()
}

// Transcript returns a snapshot of the current transcript entries.
func (e *Engine) Transcript() []transcript.Entry {
	return e.assembler.Entries()
}

// transcriptObserver is one registered transcript subscriber.
type transcriptObserver struct {
	id uint64
	fn func(transcript.Entry)
}

// OnTranscriptUpdate registers an observer for transcript mutations. Every
// registered observer sees every mutation; the metrics recorder and the
// client push path subscribe independently. The returned function removes
// the observer: a client that disconnects mid-session must unregister so
// later mutations stop reaching its dead write path.
func (e *Engine) OnTranscriptUpdate(fn func(transcript.Entry)) func() {
	e.obsMu.Lock()
	e.obsSeq++
	id := e.obsSeq
	e.observers = append(e.observers, transcriptObserver{id: id, fn: fn})
	e.obsMu.Unlock()

	if id == 1 {
		e.assembler.OnUpdate(func(entry transcript.Entry) {
			e.obsMu.Lock()
			subs := e.observers
			e.obsMu.Unlock()
			for _, sub := range subs {
				sub.fn(entry)
			}
		})
	}

	return func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		// Rebuild rather than splice so an in-flight fan-out iterating a
		// snapshot of the old slice is never mutated underneath.
		kept := make([]transcriptObserver, 0, len(e.observers))
		for _, obs := range e.observers {
			if obs.id != id {
				kept = append(kept, obs)
			}
		}
		e.observers = kept
	}
}

// HasCaptured reports whether any host audio has been captured.
func (e *Engine) HasCaptured() bool {
	return e.capture.HasCaptured()
}

// Stop tears the session down and builds the stored conversation. Each
// teardown step is independently guarded: a step that fails is logged and
// must not block the remaining steps, and whatever partial state exists is
// still turned into an artifact. Idempotent; repeated calls return the
// artifact built by the first.
func (e *Engine) Stop(ctx context.Context) (*recorder.StoredConversation, error) {
	e.mu.Lock()
	if e.phase == PhaseStopping || e.phase == PhaseIdle {
		conv := e.conversation
		e.mu.Unlock()
		return conv, nil
	}
	e.phase = PhaseStopping
	wallClock := time.Since(e.startedAt).Seconds()
	e.mu.Unlock()

	// 1. Stop capture and its flush timer, sending the final partial batch.
	e.capture.Stop()

	// 2. Finalize any streaming segments and cancel the reveal timers.
	e.assembler.FinalizeSegment(transcript.SpeakerHost)
	e.assembler.FinalizeSegment(transcript.SpeakerAI)
	e.assembler.Stop()

	// 3. Force-stop scheduled playback and reset the playback clock.
	e.scheduler.StopAll()

	// 4. Close the push-event subscriptions and the transmission channel.
	if e.opts.CloseStreams != nil {
		e.opts.CloseStreams()
	}
	if e.opts.Channel != nil {
		if err := e.opts.Channel.Close(); err != nil {
			e.opts.Logger.Warn().Err(err).Msg("Failed to close transmission channel")
		}
	}
	if e.opts.Transcriber != nil {
		if err := e.opts.Transcriber.Close(); err != nil {
			e.opts.Logger.Warn().Err(err).Msg("Failed to close local transcription")
		}
	}

	// 5. Notify the remote session to release server-side resources.
	if e.opts.ReleaseRemote != nil {
		e.opts.ReleaseRemote(ctx)
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	// 6. Release the retained buffers into the artifact.
	conv, err := e.recorder.Finalize(e.capture.Retained(), e.assembler.Entries(), wallClock, e.opts.Paper)
	if err != nil {
		e.opts.Logger.Error().Err(err).Msg("Failed to build conversation artifact")
		return nil, err
	}

	e.mu.Lock()
	e.conversation = conv
	e.mu.Unlock()

	e.opts.Logger.Info().
		Float64("duration_seconds", conv.DurationSeconds).
		Int("transcript_entries", len(conv.Transcript)).
		Msg("Session stopped")
	return conv, nil
}

// Conversation returns the artifact built by Stop, nil before then.
func (e *Engine) Conversation() *recorder.StoredConversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversation
}
