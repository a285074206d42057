// Package api provides the HTTP handlers around the agent core: health and
// status probes plus the todo listing consumed by the UI.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/hostpilot/internal/agent"
	"github.com/ashureev/hostpilot/internal/domain"
	"github.com/ashureev/hostpilot/internal/identity"
	"github.com/ashureev/hostpilot/internal/store"
)

// Handler provides the HTTP API around the agent core.
type Handler struct {
	repo  store.Repository
	orch  *agent.Orchestrator
	model string
}

// NewHandler creates a new Handler. model is reported by the status endpoint.
func NewHandler(repo store.Repository, orch *agent.Orchestrator, model string) *Handler {
	return &Handler{repo: repo, orch: orch, model: model}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts the API endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.HandleHealth)
	r.Get("/api/status", h.HandleStatus)
	r.Get("/api/todos", h.HandleListTodos)
}

// HandleHealth reports process and database liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus reports the active session count and the configured model.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"active_sessions": h.orch.SessionCount(),
		"model":           h.model,
	})
}

// HandleListTodos returns the caller's stored task list.
func (h *Handler) HandleListTodos(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "no identity")
		return
	}

	items, err := h.repo.ListTodos(r.Context(), userID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load todos")
		return
	}
	if items == nil {
		items = []domain.TodoItem{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"todos": items})
}
