package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// Pinger reports whether the datastore can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Started string `json:"started"`
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	store     Pinger
	startedAt time.Time
}

// NewHealthHandler creates a health handler. A nil store only reports liveness.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store, startedAt: time.Now()}
}

// Check handles GET /health
// Returns 503 once the datastore is closed so load balancers drain the node.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Message: "teamchat server is running",
		Started: humanize.Time(h.startedAt),
	}
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			resp.Status = "unavailable"
			resp.Message = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
