package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/events"
)

// SessionDescription is one side of the signaling offer/answer exchange.
type SessionDescription struct {
	Type        string `json:"type"` // "offer" or "answer"
	SessionID   string `json:"session_id"`
	MediaFormat string `json:"media_format"`
	SampleRate  int    `json:"sample_rate"`
	ChannelURL  string `json:"channel_url,omitempty"` // answer only
}

// controlMessage is an outbound structured event on the signaling channel.
type controlMessage struct {
	Type    string         `json:"type"`
	Session *SessionConfig `json:"session,omitempty"`
}

// channelEnvelope wraps inbound multiplexed push events on the channel.
type channelEnvelope struct {
	Channel string          `json:"channel"`
	Event   json.RawMessage `json:"event"`
}

// RealtimeChannel is the direct media variant: after a signaling
// offer/answer exchange, captured audio flows as binary media frames and
// control messages flow as structured JSON events on the same channel.
type RealtimeChannel struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
	out     chan events.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Negotiate performs the offer/answer exchange against the signaling
// endpoint and opens the media/data channel named in the answer.
func Negotiate(ctx context.Context, signalURL, apiKey string, offer SessionDescription, logger zerolog.Logger) (*RealtimeChannel, error) {
	offer.Type = "offer"

	body, err := json.Marshal(offer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signalURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create signaling request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := (&http.Client{Timeout: 15 * time.Second}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("signaling exchange failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrCredentialRejected
	default:
		return nil, fmt.Errorf("signaling endpoint returned status %d", resp.StatusCode)
	}

	var answer SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("failed to decode answer: %w", err)
	}
	if answer.Type != "answer" || answer.ChannelURL == "" {
		return nil, fmt.Errorf("signaling endpoint returned invalid answer")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	conn, wsResp, err := websocket.DefaultDialer.DialContext(ctx, answer.ChannelURL, header)
	if wsResp != nil && wsResp.Body != nil {
		wsResp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open media channel: %w", err)
	}

	ch := &RealtimeChannel{
		conn:   conn,
		logger: logger,
		out:    make(chan events.Event, 256),
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ch.cancel = cancel
	ch.wg.Add(1)
	go ch.readLoop(loopCtx)

	return ch, nil
}

// SendAudio ships one captured batch as a binary media frame.
func (c *RealtimeChannel) SendAudio(pcm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("failed to send media frame: %w", err)
	}
	return nil
}

// CommitTurn signals end-of-turn on the control channel.
func (c *RealtimeChannel) CommitTurn() error {
	return c.writeControl(controlMessage{Type: "turn.commit"})
}

// UpdateSession pushes a session configuration update on the control
// channel.
func (c *RealtimeChannel) UpdateSession(cfg SessionConfig) error {
	return c.writeControl(controlMessage{Type: "session.update", Session: &cfg})
}

func (c *RealtimeChannel) writeControl(msg controlMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// Events returns the normalized push events multiplexed over the channel.
func (c *RealtimeChannel) Events() <-chan events.Event {
	return c.out
}

func (c *RealtimeChannel) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.out)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				c.logger.Warn().Err(err).Msg("Media channel closed")
			}
			return
		}

		var envelope channelEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.logger.Warn().Err(err).Msg("Skipping malformed channel message")
			continue
		}

		ev, ok, err := events.Normalize(events.Stream(envelope.Channel), envelope.Event)
		if err != nil {
			c.logger.Warn().Err(err).Str("channel", envelope.Channel).Msg("Skipping malformed channel event")
			continue
		}
		if !ok {
			continue
		}

		select {
		case c.out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Close tears down the media channel.
func (c *RealtimeChannel) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.conn.Close()
	c.wg.Wait()
	return err
}
