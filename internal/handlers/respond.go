// Package handlers contains the server's chi HTTP handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/koinonia/teamchat/internal/services"
)

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

// writeError maps service errors to status codes. Unknown errors are 500s
// and their text is not exposed.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrEmptyText),
		errors.Is(err, services.ErrTextTooLong),
		errors.Is(err, services.ErrMissingSender),
		errors.Is(err, services.ErrMissingUser),
		errors.Is(err, services.ErrMissingToken),
		errors.Is(err, services.ErrInvalidPayload),
		errors.Is(err, services.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotMember),
		errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrPushDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
