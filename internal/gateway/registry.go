// Package gateway exposes the conversation engine to clients: an HTTP
// session API, a media WebSocket carrying the host's microphone audio, and
// the artifact/archive download endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/audio"
	"github.com/podcaststudio/realtime-engine/internal/config"
	"github.com/podcaststudio/realtime-engine/internal/engine"
	"github.com/podcaststudio/realtime-engine/internal/events"
	"github.com/podcaststudio/realtime-engine/internal/observability"
	"github.com/podcaststudio/realtime-engine/internal/recorder"
	"github.com/podcaststudio/realtime-engine/internal/resilience"
	"github.com/podcaststudio/realtime-engine/internal/stt"
	"github.com/podcaststudio/realtime-engine/internal/transcript"
	"github.com/podcaststudio/realtime-engine/internal/transport"
)

// ErrSessionExists reports a create with an ID that is already live or
// currently being created.
var ErrSessionExists = errors.New("session already exists")

// Session binds one live engine to its gateway-side state.
type Session struct {
	ID      string
	Engine  *engine.Engine
	Metrics *observability.SessionMetrics
	Logger  zerolog.Logger
}

// Registry owns the set of live sessions.
type Registry struct {
	cfg      *config.Config
	provider *transport.ProviderClient
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]struct{}
}

// NewRegistry creates a session registry for the given configuration.
func NewRegistry(cfg *config.Config, logger zerolog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		provider: transport.NewProviderClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, logger),
		sessions: make(map[string]*Session),
		pending:  make(map[string]struct{}),
		logger:   logger,
	}
}

// Create assembles and starts a session. Any failure here is fatal to
// start: the remote session is released and no session is registered.
func (r *Registry) Create(ctx context.Context, sessionID string, paper *recorder.PaperContext) (*Session, error) {
	if sessionID == "" {
		sessionID = observability.NewSessionID()
	}

	// Reserve the ID before the slow provider negotiation so a concurrent
	// create with the same ID fails instead of overwriting this one.
	r.mu.Lock()
	_, live := r.sessions[sessionID]
	_, reserved := r.pending[sessionID]
	if live || reserved {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionExists)
	}
	r.pending[sessionID] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, sessionID)
		r.mu.Unlock()
	}()

	logger := observability.WithSessionID(sessionID)

	sessionCfg := transport.SessionConfig{
		Model:            r.cfg.ProviderModel,
		Voice:            r.cfg.ProviderVoice,
		InputSampleRate:  r.cfg.CaptureSampleRate,
		OutputSampleRate: r.cfg.PlaybackSampleRate,
		TurnDetection:    r.cfg.TurnDetection,
	}
	if err := r.provider.StartSession(ctx, sessionID, sessionCfg); err != nil {
		return nil, err
	}

	metrics := observability.NewSessionMetrics(sessionID)

	eng, closeStreams, err := r.buildEngine(ctx, sessionID, paper, metrics, logger)
	if err != nil {
		r.provider.StopSession(ctx, sessionID)
		return nil, err
	}

	if err := eng.Start(ctx); err != nil {
		if closeStreams != nil {
			closeStreams()
		}
		r.provider.StopSession(ctx, sessionID)
		return nil, err
	}

	metrics.RecordSessionStart()
	eng.OnTranscriptUpdate(func(entry transcript.Entry) {
		if entry.Status == transcript.StatusFinal {
			metrics.RecordTranscriptEntry(string(entry.Speaker))
		}
	})

	session := &Session{
		ID:      sessionID,
		Engine:  eng,
		Metrics: metrics,
		Logger:  logger,
	}

	r.mu.Lock()
	r.sessions[sessionID] = session
	r.mu.Unlock()

	logger.Info().Str("transport", r.cfg.Transport).Msg("Session created")
	return session, nil
}

// buildEngine wires the transport, push-event source, and optional local
// transcriber for one session.
func (r *Registry) buildEngine(ctx context.Context, sessionID string, paper *recorder.PaperContext, metrics *observability.SessionMetrics, logger zerolog.Logger) (*engine.Engine, func(), error) {
	reconnect := resilience.ReconnectConfig{
		MaxAttempts: r.cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(r.cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  time.Duration(r.cfg.ReconnectMaxBackoff) * time.Second,
	}

	var (
		channel      transport.Channel
		eventSource  <-chan events.Event
		closeStreams func()
	)

	switch r.cfg.Transport {
	case "realtime":
		offer := transport.SessionDescription{
			SessionID:   sessionID,
			MediaFormat: "pcm16",
			SampleRate:  r.cfg.CaptureSampleRate,
		}
		rt, err := transport.Negotiate(ctx, r.cfg.ProviderSignalURL, r.cfg.ProviderAPIKey, offer, logger)
		if err != nil {
			return nil, nil, err
		}
		channel = rt
		eventSource = rt.Events()

	default: // append
		channel = transport.NewHTTPAppendChannel(transport.HTTPAppendConfig{
			BaseURL:      r.cfg.ProviderBaseURL,
			SessionID:    sessionID,
			APIKey:       r.cfg.ProviderAPIKey,
			PostInterval: time.Duration(r.cfg.AppendIntervalMs) * time.Millisecond,
		}, logger)

		header := http.Header{}
		header.Set("Authorization", "Bearer "+r.cfg.ProviderAPIKey)
		consumer := events.NewConsumer(r.streamURLs(sessionID), header, reconnect, logger)
		consumer.OnReconnect(func(stream events.Stream) {
			observability.RecordStreamReconnect(string(stream))
		})
		if err := consumer.Start(ctx); err != nil {
			channel.Close()
			return nil, nil, err
		}
		eventSource = consumer.Events()
		closeStreams = consumer.Close
	}

	var transcriber stt.Transcriber
	if r.cfg.TranscriptAuthority == engine.AuthorityLocal {
		transcriber = stt.NewDeepgramTranscriber(stt.DeepgramConfig{
			APIKey:     r.cfg.DeepgramAPIKey,
			Model:      r.cfg.DeepgramModel,
			Language:   r.cfg.DeepgramLanguage,
			SampleRate: r.cfg.CaptureSampleRate,
			Reconnect:  reconnect,
		}, logger)
	}

	engineCfg := engine.Config{
		CaptureSampleRate:   r.cfg.CaptureSampleRate,
		PlaybackSampleRate:  r.cfg.PlaybackSampleRate,
		TurnDetection:       r.cfg.TurnDetection,
		TranscriptAuthority: r.cfg.TranscriptAuthority,
		Capture: audio.CaptureConfig{
			BatchBytes:        r.cfg.CaptureBatchBytes,
			FlushInterval:     time.Duration(r.cfg.CaptureFlushMs) * time.Millisecond,
			MaxRetainedChunks: r.cfg.MaxRetainedChunks,
		},
		VAD: audio.VADConfig{
			EnergyThreshold: r.cfg.VADEnergyThreshold,
			SilenceFrames:   r.cfg.VADSilenceFrames,
			FrameSamples:    480,
		},
		Transcript:  r.transcriptConfig(),
		MaxAIChunks: r.cfg.MaxRetainedChunks,
	}

	eng := engine.New(engineCfg, engine.Options{
		SessionID:    sessionID,
		Channel:      channel,
		Events:       eventSource,
		Transcriber:  transcriber,
		CloseStreams: closeStreams,
		ReleaseRemote: func(ctx context.Context) {
			r.provider.StopSession(ctx, sessionID)
		},
		Paper:   paper,
		Clock:   audio.SystemClock(),
		Metrics: metrics,
		Logger:  logger,
	})
	return eng, closeStreams, nil
}

func (r *Registry) transcriptConfig() transcript.Config {
	cfg := transcript.DefaultConfig()
	cfg.AIRevealTick = time.Duration(r.cfg.AIRevealTickMs) * time.Millisecond
	cfg.HostRevealTick = time.Duration(r.cfg.HostRevealTickMs) * time.Millisecond
	return cfg
}

// streamURLs derives the push-event channel endpoints from the provider
// base URL.
func (r *Registry) streamURLs(sessionID string) events.StreamURLs {
	base := strings.Replace(r.cfg.ProviderBaseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	prefix := base + "/v1/sessions/" + sessionID + "/streams/"
	return events.StreamURLs{
		AIAudio:        prefix + "ai-audio",
		AITranscript:   prefix + "ai-transcript",
		UserTranscript: prefix + "user-transcript",
	}
}

// Get returns the session with the given ID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Stop tears a session down. The stopped session stays registered so its
// artifact remains downloadable; repeated stops return the same artifact.
func (r *Registry) Stop(ctx context.Context, sessionID string) (*recorder.StoredConversation, error) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	alreadyStopped := session.Engine.Phase() == engine.PhaseStopping

	conv, err := session.Engine.Stop(ctx)
	if !alreadyStopped {
		session.Metrics.RecordSessionEnd()
	}
	if err != nil {
		session.Logger.Error().Err(err).Msg("Session teardown failed")
		return nil, err
	}
	return conv, nil
}

// Conversation returns the stored artifact built when the session stopped.
func (r *Registry) Conversation(sessionID string) (*recorder.StoredConversation, bool) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	conv := session.Engine.Conversation()
	if conv == nil {
		return nil, false
	}
	return conv, true
}

// StopAll tears down every live session, used at server shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if _, err := r.Stop(ctx, id); err != nil {
			r.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to stop session during shutdown")
		}
	}
}
