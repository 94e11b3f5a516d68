package websocket

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/koinonia/teamchat/internal/models"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// MembershipChecker decides whether a user may stream a conversation.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// Handler handles WebSocket connections
type Handler struct {
	hub     *Hub
	members MembershipChecker
}

// NewHandler creates a new WebSocket handler. members may be nil to skip the
// membership check.
func NewHandler(hub *Hub, members MembershipChecker) *Handler {
	return &Handler{hub: hub, members: members}
}

// ServeWS handles WebSocket upgrade requests at /ws/conversations/{id}
// Query params: user_id
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		http.Error(w, "conversation ID required", http.StatusBadRequest)
		return
	}

	userID := models.NormalizeUserID(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	if h.members != nil {
		ok, err := h.members.IsMember(r.Context(), conversationID, userID)
		if err != nil {
			h.hub.logger.Error().Err(err).Msg("membership check failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not a member of this conversation", http.StatusForbidden)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	h.hub.logger.Info().Str("conversation", conversationID).Str("user", userID).Msg("new connection")

	client := NewClient(h.hub, conn, conversationID, userID)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
