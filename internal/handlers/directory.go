package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/koinonia/teamchat/internal/models"
	"github.com/koinonia/teamchat/internal/services"
)

// DirectoryHandler serves presence, push tokens, unread bumps and the push relay.
type DirectoryHandler struct {
	directory *services.DirectoryService
}

// NewDirectoryHandler creates a new DirectoryHandler instance.
func NewDirectoryHandler(directory *services.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

// TouchPresence handles PUT /api/conversations/{id}/presence/{userID}
func (h *DirectoryHandler) TouchPresence(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.TouchPresence(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearPresence handles DELETE /api/conversations/{id}/presence/{userID}
func (h *DirectoryHandler) ClearPresence(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.ClearPresence(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Presence handles GET /api/conversations/{id}/presence
func (h *DirectoryHandler) Presence(w http.ResponseWriter, r *http.Request) {
	recs, err := h.directory.Presence(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.PresenceResponse{Records: recs, ServerTime: time.Now().UTC()})
}

// IncrementUnread handles POST /api/conversations/{id}/unread/{userID}
func (h *DirectoryHandler) IncrementUnread(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.IncrementUnread(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterPushToken handles PUT /api/users/{userID}/push-token
func (h *DirectoryHandler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterPushTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.directory.RegisterPushToken(r.Context(), chi.URLParam(r, "userID"), req.Token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LookupPushTokens handles POST /api/push-tokens/lookup
func (h *DirectoryHandler) LookupPushTokens(w http.ResponseWriter, r *http.Request) {
	var req models.PushTokenLookupRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tokens, err := h.directory.LookupPushTokens(r.Context(), req.UserIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.PushTokenLookupResponse{Tokens: tokens})
}

// RelayPush handles POST /api/push
func (h *DirectoryHandler) RelayPush(w http.ResponseWriter, r *http.Request) {
	var req models.PushMessage
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.directory.RelayPush(r.Context(), req); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			// upstream push service failure
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
