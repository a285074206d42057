// Package channel provides the WebSocket chat transport. One connection per
// (user, tab session); outbound lines from the agent fan out to every open
// tab of the user.
package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const sendTimeout = 10 * time.Second

// Frame is the wire format for chat messages in both directions.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// conn wraps a websocket connection with a write mutex. The websocket
// library permits only one writer at a time; agent output and pong replies
// can race without this.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Hub tracks active chat connections per user and tab session. It implements
// the orchestrator's Outbound collaborator.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*conn
}

// NewHub creates an empty connection hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]map[string]*conn)}
}

// register adds a connection, replacing any previous one for the same tab.
func (h *Hub) register(userID, sessionID string, ws *websocket.Conn) *conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*conn)
	}
	if existing, exists := h.active[userID][sessionID]; exists && existing.ws != ws {
		_ = existing.ws.Close(websocket.StatusNormalClosure, "session replaced")
	}

	c := &conn{ws: ws}
	h.active[userID][sessionID] = c
	slog.Info("chat session registered", "user_id", userID, "session_id", sessionID)
	return c
}

// unregister removes a connection if it is still the registered one.
func (h *Hub) unregister(userID, sessionID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessions, ok := h.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == c {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(h.active, userID)
			}
			slog.Info("chat session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Send delivers a text line to every open tab of the user. Sends to a user
// with no connections are dropped silently; the dialogue history is the
// durable record, not the socket.
func (h *Hub) Send(userID, text string) {
	h.mu.RLock()
	conns := make([]*conn, 0, 2)
	for _, c := range h.active[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeFrame(Frame{Type: "line", Content: text}); err != nil {
			slog.Debug("chat send failed", "user_id", userID, "error", err)
		}
	}
}

// CloseUser terminates all of the user's connections.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sid, c := range h.active[userID] {
		_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("chat session closed", "user_id", userID, "session_id", sid)
	}
	delete(h.active, userID)
}
