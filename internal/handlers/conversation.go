package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/koinonia/teamchat/internal/models"
	"github.com/koinonia/teamchat/internal/services"
)

// ConversationHandler contains HTTP handlers for conversation operations.
type ConversationHandler struct {
	conversations *services.ConversationService
}

// NewConversationHandler creates a new ConversationHandler instance.
func NewConversationHandler(conversations *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// Create handles POST /api/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		// no body means the default name
		req = models.CreateConversationRequest{}
	}

	conv, err := h.conversations.Create(r.Context(), req.Name, req.CreatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.CreateConversationResponse{ConversationID: conv.ID})
}

// List handles GET /api/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.conversations.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// Get handles GET /api/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, members, err := h.conversations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ConversationInfoResponse{Conversation: *conv, Members: members})
}

// Members handles GET /api/conversations/{id}/members
func (h *ConversationHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.conversations.Members(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// Join handles POST /api/conversations/{id}/join
func (h *ConversationHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req models.JoinConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	members, err := h.conversations.Join(r.Context(), chi.URLParam(r, "id"), req.UserID, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// Leave handles POST /api/conversations/{id}/leave
func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	var req models.LeaveConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.conversations.Leave(r.Context(), chi.URLParam(r, "id"), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnreadCount handles GET /api/conversations/{id}/unread/{userID}
func (h *ConversationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userID")

	n, err := h.conversations.UnreadCount(r.Context(), id, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.UnreadResponse{
		ConversationID: id,
		UserID:         models.NormalizeUserID(userID),
		Count:          n,
	})
}

// MarkRead handles DELETE /api/conversations/{id}/unread/{userID}
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.MarkRead(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
