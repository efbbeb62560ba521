package events

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/podcaststudio/realtime-engine/internal/resilience"
)

// StreamURLs locates the three push-event channels for one session.
type StreamURLs struct {
	AIAudio        string
	AITranscript   string
	UserTranscript string
}

// Consumer subscribes to the session's push-event channels and funnels
// normalized events into a single output channel. Stream disconnects
// reconnect with backoff; the session keeps running meanwhile.
type Consumer struct {
	urls      StreamURLs
	header    http.Header
	reconnect resilience.ReconnectConfig
	logger    zerolog.Logger

	out chan Event

	mu          sync.Mutex
	conns       map[Stream]*websocket.Conn
	onReconnect func(stream Stream)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer for the given stream endpoints.
func NewConsumer(urls StreamURLs, header http.Header, reconnect resilience.ReconnectConfig, logger zerolog.Logger) *Consumer {
	return &Consumer{
		urls:      urls,
		header:    header,
		reconnect: reconnect,
		logger:    logger,
		out:       make(chan Event, 256),
		conns:     make(map[Stream]*websocket.Conn),
	}
}

// OnReconnect registers a hook invoked when a stream re-establishes after a
// disconnect. Used for metrics.
func (c *Consumer) OnReconnect(fn func(stream Stream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// Events returns the normalized event channel.
func (c *Consumer) Events() <-chan Event {
	return c.out
}

// Start subscribes to all three channels. A failure to establish any initial
// subscription is fatal to session start.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	streams := []struct {
		name Stream
		url  string
	}{
		{StreamAIAudio, c.urls.AIAudio},
		{StreamAITranscript, c.urls.AITranscript},
		{StreamUserTranscript, c.urls.UserTranscript},
	}

	for _, s := range streams {
		conn, err := c.dial(ctx, s.url)
		if err != nil {
			c.closeAll()
			return fmt.Errorf("failed to subscribe to %s stream: %w", s.name, err)
		}
		c.mu.Lock()
		c.conns[s.name] = conn
		c.mu.Unlock()

		c.wg.Add(1)
		go c.readLoop(ctx, s.name, s.url, conn)
	}

	return nil
}

func (c *Consumer) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *Consumer) readLoop(ctx context.Context, stream Stream, url string, conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			select {
			case <-ctx.Done():
				return
			default:
			}

			c.logger.Warn().Err(err).Str("stream", string(stream)).Msg("Push stream disconnected, reconnecting")

			var next *websocket.Conn
			rerr := resilience.Reconnect(ctx, func() error {
				var derr error
				next, derr = c.dial(ctx, url)
				return derr
			}, c.reconnect, c.logger.With().Str("stream", string(stream)).Logger())
			if rerr != nil {
				c.logger.Error().Err(rerr).Str("stream", string(stream)).Msg("Giving up on push stream")
				return
			}

			c.mu.Lock()
			c.conns[stream] = next
			hook := c.onReconnect
			c.mu.Unlock()
			if hook != nil {
				hook(stream)
			}
			conn = next
			continue
		}

		ev, ok, err := Normalize(stream, raw)
		if err != nil {
			// Data-quality failure: skip the message, keep the stream.
			c.logger.Warn().Err(err).Str("stream", string(stream)).Msg("Skipping malformed push message")
			continue
		}
		if !ok {
			continue
		}

		select {
		case c.out <- ev:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// Close tears down all stream subscriptions. Safe to call more than once;
// a stream that fails to close does not block the others.
func (c *Consumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeAll()
	c.wg.Wait()
}

func (c *Consumer) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for stream, conn := range c.conns {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			c.logger.Debug().Err(err).Str("stream", string(stream)).Msg("Error closing push stream")
		}
		delete(c.conns, stream)
	}
}
