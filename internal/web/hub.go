package web

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// outbound is one queued WebSocket message.
type outbound struct {
	kind int
	data []byte
}

// Viewer represents a connected live view client
type Viewer struct {
	ID     string
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan outbound
	closed bool
	mu     sync.Mutex
}

// Hub tracks all live view clients
type Hub struct {
	viewers map[*Viewer]bool
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		viewers: make(map[*Viewer]bool),
		logger:  logger,
	}
}

// AddViewer adds a viewer to the hub
func (h *Hub) AddViewer(v *Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.viewers[v] = true
}

// RemoveViewer removes a viewer from the hub
func (h *Hub) RemoveViewer(v *Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.viewers, v)
}

// Len returns the number of connected viewers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Broadcast queues a message for every viewer. Viewers whose queue is full
// miss the message.
func (h *Hub) Broadcast(kind int, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for v := range h.viewers {
		v.enqueue(outbound{kind: kind, data: data})
	}
}

// BroadcastJSON marshals msg once and queues it for every viewer.
func (h *Hub) BroadcastJSON(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "type", msg.Type, "error", err)
		return
	}
	h.Broadcast(websocket.TextMessage, b)
}

func (v *Viewer) enqueue(m outbound) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	select {
	case v.Send <- m:
		return true
	default:
		// Channel full, skip this message
		return false
	}
}

// writePump pumps messages from the Send channel to the WebSocket connection
func (v *Viewer) writePump() {
	defer func() {
		v.Conn.Close()
	}()

	for m := range v.Send {
		if err := v.Conn.WriteMessage(m.kind, m.data); err != nil {
			return
		}
	}
}

// readPump waits for the viewer to go away. Viewers never send anything
// the server acts on; reading is needed to process control frames.
func (v *Viewer) readPump() {
	defer func() {
		v.mu.Lock()
		v.closed = true
		close(v.Send)
		v.mu.Unlock()

		v.Hub.RemoveViewer(v)
		v.Conn.Close()

		v.Hub.logger.Debug("viewer left", "viewer", v.ID)
	}()

	for {
		if _, _, err := v.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				v.Hub.logger.Debug("websocket error", "viewer", v.ID, "error", err)
			}
			return
		}
	}
}
