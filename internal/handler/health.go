package handler

import (
	"net/http"

	"github.com/pairlink/chat-backend/internal/events"
	"github.com/pairlink/chat-backend/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db          *store.SQLite
	natsClient  *events.Client
	requireNATS bool
}

// NewHealthHandler creates a new health handler. db and natsClient
// may be nil when the deployment does not use them.
func NewHealthHandler(db *store.SQLite, natsClient *events.Client, requireNATS bool) *HealthHandler {
	return &HealthHandler{
		db:          db,
		natsClient:  natsClient,
		requireNATS: requireNATS,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unreachable",
			})
			return
		}
	}

	if h.requireNATS && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
