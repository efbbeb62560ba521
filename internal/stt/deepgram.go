package stt

import (
	"context"
	"fmt"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/resilience"
)

// DeepgramConfig holds the streaming session options for the Deepgram
// transcriber.
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int

	Reconnect resilience.ReconnectConfig
}

// callbackHandler adapts Deepgram's callback interface onto the
// transcriber. The default handler covers every message type we do not
// care about.
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onSpeech  func(started bool)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (c *callbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	c.onMessage(msg)
	return nil
}

func (c *callbackHandler) SpeechStarted(_ *msginterfaces.SpeechStartedResponse) error {
	c.onSpeech(true)
	return nil
}

func (c *callbackHandler) UtteranceEnd(_ *msginterfaces.UtteranceEndResponse) error {
	c.onSpeech(false)
	return nil
}

func (c *callbackHandler) Error(resp *msginterfaces.ErrorResponse) error {
	if c.onError != nil {
		return c.onError(resp)
	}
	return c.DefaultCallbackHandler.Error(resp)
}

// DeepgramTranscriber implements Transcriber against Deepgram's streaming
// WebSocket API with linear16 PCM input.
type DeepgramTranscriber struct {
	cfg     DeepgramConfig
	logger  zerolog.Logger
	results chan *Result

	mu       sync.RWMutex
	client   *listenClient.WSCallback
	isActive bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDeepgramTranscriber creates a Deepgram streaming transcriber.
func NewDeepgramTranscriber(cfg DeepgramConfig, logger zerolog.Logger) *DeepgramTranscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &DeepgramTranscriber{
		cfg:     cfg,
		logger:  logger,
		results: make(chan *Result, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start opens the streaming session.
func (d *DeepgramTranscriber) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("transcriber is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.cfg.SampleRate,
	}

	callback := &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onSpeech:               d.handleSpeechBoundary,
		onError: func(resp *msginterfaces.ErrorResponse) error {
			d.logger.Warn().Interface("response", resp).Msg("Transcription stream error")

			select {
			case <-d.ctx.Done():
				return nil
			default:
			}

			d.mu.Lock()
			d.isActive = false
			d.mu.Unlock()
			go d.reconnect()
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(d.ctx, d.cfg.APIKey, nil, tOptions, callback)
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}

	d.client = client
	d.isActive = true

	d.logger.Info().
		Str("model", d.cfg.Model).
		Str("language", d.cfg.Language).
		Int("sample_rate", d.cfg.SampleRate).
		Msg("Transcription stream started")
	return nil
}

func (d *DeepgramTranscriber) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}

	d.emit(&Result{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
	})
}

func (d *DeepgramTranscriber) handleSpeechBoundary(started bool) {
	d.emit(&Result{SpeechStarted: started, SpeechEnded: !started})
}

// emit delivers one result unless the transcriber is closed. In-flight SDK
// callbacks can fire after Stop; the closed check under the read lock keeps
// them from sending on the closed result channel.
func (d *DeepgramTranscriber) emit(r *Result) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.results <- r:
	default:
		d.logger.Warn().Msg("Transcription result channel full, dropping result")
	}
}

// SendAudio forwards one PCM16 chunk to the stream.
func (d *DeepgramTranscriber) SendAudio(pcm []byte) error {
	d.mu.RLock()
	active := d.isActive
	client := d.client
	d.mu.RUnlock()

	if !active || client == nil {
		return fmt.Errorf("transcriber is not active")
	}

	if _, err := client.Write(pcm); err != nil {
		go d.reconnect()
		return fmt.Errorf("failed to send audio for transcription: %w", err)
	}
	return nil
}

func (d *DeepgramTranscriber) reconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()
	if alreadyActive {
		return
	}

	err := resilience.Reconnect(d.ctx, func() error {
		return d.Start()
	}, d.cfg.Reconnect, d.logger)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to restore transcription stream")
	}
}

// Results returns the transcription result stream.
func (d *DeepgramTranscriber) Results() <-chan *Result {
	return d.results
}

// Stop finishes the current session.
func (d *DeepgramTranscriber) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Info().Msg("Transcription stream stopped")
	return nil
}

// Close stops the session and releases the connection. The result channel
// closes only once no callback can emit into it; emit holds the read lock,
// so taking the write lock here orders the close after every in-flight
// delivery.
func (d *DeepgramTranscriber) Close() error {
	d.cancel()

	if err := d.Stop(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.results)
	}
	return nil
}

// IsActive reports whether the streaming session is up.
func (d *DeepgramTranscriber) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
