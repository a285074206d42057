package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/hostpilot/internal/agent"
	"github.com/ashureev/hostpilot/internal/identity"
	"github.com/ashureev/hostpilot/internal/store"
)

// WebSocketHandler upgrades chat connections and pumps user lines into the
// orchestrator.
type WebSocketHandler struct {
	hub           *Hub
	orch          *agent.Orchestrator
	repo          store.Repository
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the chat endpoint handler.
func NewWebSocketHandler(hub *Hub, orch *agent.Orchestrator, repo store.Repository, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		orch:          orch,
		repo:          repo,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("chat connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept chat connection", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close chat connection", "error", closeErr, "user_id", userID)
		}
	}()

	c := h.hub.register(userID, sessionID, ws)
	defer h.hub.unregister(userID, sessionID, c)

	h.readLoop(r.Context(), ws, c, userID)
	slog.Info("chat session ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("chat origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop pumps inbound frames. User lines are handled synchronously: the
// orchestrator hands long work to its own background goroutines, so a read
// loop iteration is short unless a confirmed command is executing.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, c *conn, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("chat connection closed by client", "user_id", userID)
			} else {
				slog.Warn("chat read error", "error", err, "user_id", userID)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			// Bare text is accepted as a line for plain-socket clients.
			f = Frame{Type: "line", Content: string(message)}
		}

		switch f.Type {
		case "line":
			h.orch.HandleInput(ctx, userID, f.Content)
			h.touchUser(userID)
		case "ping":
			if err := c.writeFrame(Frame{Type: "pong"}); err != nil {
				slog.Debug("failed to send pong", "error", err, "user_id", userID)
			}
		}
	}
}

// touchUser updates last_seen_at asynchronously with its own timeout.
func (h *WebSocketHandler) touchUser(userID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
			slog.Warn("failed to update last seen", "error", err, "user_id", userID)
		}
	}()
}
