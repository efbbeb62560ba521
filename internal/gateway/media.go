package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/podcaststudio/realtime-engine/internal/transcript"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin validation is deployment-specific; the session API key
		// exchange happens before any media flows.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// clientMessage is one inbound JSON message on the media WebSocket.
type clientMessage struct {
	Event   string `json:"event"` // "start", "media", "stop", "error"
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// serverMessage is one outbound JSON message on the media WebSocket.
type serverMessage struct {
	Event string            `json:"event"` // "started", "transcript", "stopped", "error"
	Entry *transcript.Entry `json:"entry,omitempty"`
	Error string            `json:"error,omitempty"`
}

// handleMedia upgrades the client connection and bridges it to the
// session: inbound media frames feed the capture path, transcript
// mutations stream back out.
func (a *API) handleMedia(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	session, ok := a.registry.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		session.Logger.Warn().Err(err).Msg("Failed to upgrade media connection")
		return
	}
	defer conn.Close()

	// gorilla allows one concurrent writer; transcript updates arrive from
	// the assembler's goroutines while this handler also writes.
	writes := make(chan serverMessage, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range writes {
			if err := conn.WriteJSON(msg); err != nil {
				session.Logger.Debug().Err(err).Msg("Media write failed")
				return
			}
		}
	}()

	// The session can outlive this connection, so a transcript update may
	// race the teardown. send and closeWrites share one lock: once the
	// closed flag is set nothing enqueues on the closed channel.
	var writeMu sync.Mutex
	writeClosed := false
	send := func(msg serverMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if writeClosed {
			return
		}
		select {
		case writes <- msg:
		default:
			session.Logger.Warn().Msg("Media write queue full, dropping update")
		}
	}
	closeWrites := func() {
		writeMu.Lock()
		defer writeMu.Unlock()
		if writeClosed {
			return
		}
		writeClosed = true
		close(writes)
	}

	unsubscribe := session.Engine.OnTranscriptUpdate(func(entry transcript.Entry) {
		send(serverMessage{Event: "transcript", Entry: &entry})
	})
	defer unsubscribe()

	session.Logger.Info().Msg("Media connection established")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				session.Logger.Warn().Err(err).Msg("Media connection read error")
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			session.Logger.Warn().Err(err).Msg("Skipping malformed media message")
			continue
		}

		switch msg.Event {
		case "start":
			send(serverMessage{Event: "started"})

		case "media":
			frame, err := base64.StdEncoding.DecodeString(msg.Payload)
			if err != nil {
				session.Logger.Warn().Err(err).Msg("Skipping media frame with invalid payload")
				continue
			}
			session.Metrics.RecordAudioBytes("in", int64(len(frame)))
			session.Engine.PushAudio(frame)

		case "stop":
			session.Logger.Info().Msg("Client requested stop")
			if _, err := a.registry.Stop(r.Context(), sessionID); err != nil {
				session.Logger.Warn().Err(err).Msg("Stop on client request failed")
			}
			send(serverMessage{Event: "stopped"})
			closeWrites()
			<-done
			return

		case "error":
			// Capture-permission denial on the client is fatal to the
			// session; surface it and tear down.
			session.Logger.Error().Str("detail", msg.Error).Msg("Client reported capture error")
			session.Metrics.RecordError("capture_error", "gateway")
			if _, err := a.registry.Stop(r.Context(), sessionID); err != nil {
				session.Logger.Warn().Err(err).Msg("Stop after client error failed")
			}
			send(serverMessage{Event: "error", Error: msg.Error})
			closeWrites()
			<-done
			return

		default:
			session.Logger.Debug().Str("event", msg.Event).Msg("Unknown media event")
		}
	}

	closeWrites()
	<-done
}
