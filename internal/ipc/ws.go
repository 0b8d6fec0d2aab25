package ipc

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/autodev-labs/autodev-engine/internal/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The HTTP layer already allows any origin via CORS.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type clientMessage struct {
	Type string `json:"type"`
}

// StreamEvents handles GET /api/v1/executions/{executionID}/stream. It
// upgrades to a WebSocket, subscribes the connection to the execution's
// event stream, and answers ping messages with pong. A subscriber that
// cannot keep up is dropped by the broadcaster.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("executionID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	sub := broadcast.NewChanSubscriber(64)
	handle := h.Bus.Subscribe(executionID, sub)

	done := make(chan struct{})

	// Writes come from both the event pump and the pong reply; the
	// connection allows only one concurrent writer.
	var writeMu sync.Mutex
	writeJSONLocked := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// Writer: broadcaster events out to the socket.
	go func() {
		defer conn.Close()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := writeJSONLocked(ev); err != nil {
					return
				}
			}
		}
	}()

	// Reader: ping handling and disconnect detection.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ipc: websocket %s: %v", executionID, err)
			}
			break
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			if err := writeJSONLocked(clientMessage{Type: "pong"}); err != nil {
				break
			}
		}
	}

	close(done)
	h.Bus.Unsubscribe(handle)
	sub.Close()
	conn.Close()
}
