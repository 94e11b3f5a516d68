package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/koinonia/teamchat/internal/metrics"
	"github.com/koinonia/teamchat/internal/models"
	"github.com/koinonia/teamchat/internal/services"
)

// MessageHandler contains HTTP handlers for message operations.
type MessageHandler struct {
	messages *services.MessageService
	limiter  *limiterPool
}

// NewMessageHandler creates a MessageHandler. Each sender may send ratePerSec
// messages per second with the given burst.
func NewMessageHandler(messages *services.MessageService, ratePerSec float64, burst int) *MessageHandler {
	return &MessageHandler{messages: messages, limiter: newLimiterPool(ratePerSec, burst)}
}

// Send handles POST /api/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var req models.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sender := models.NormalizeUserID(req.SenderID)
	if sender != "" && !h.limiter.Allow(sender) {
		metrics.SendsRateLimited.Inc()
		http.Error(w, "too many messages", http.StatusTooManyRequests)
		return
	}

	msg, err := h.messages.Send(r.Context(), conversationID, req)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Debug().Str("conversation", conversationID).Str("message", msg.ID).Msg("message stored")
	writeJSON(w, http.StatusCreated, models.SendMessageResponse{ID: msg.ID, CreatedAt: msg.CreatedAt})
}

// List handles GET /api/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.messages.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.GetMessagesResponse{Messages: msgs})
}

// Delete handles DELETE /api/conversations/{id}/messages/{msgID}?user_id=
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.messages.DeleteMessage(r.Context(),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "msgID"),
		r.URL.Query().Get("user_id"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
