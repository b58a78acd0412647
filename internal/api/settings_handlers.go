package api

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/usersettings"
)

// handleSettings reads or replaces the caller's settings overlay.
func (r *Router) handleSettings(w http.ResponseWriter, req *http.Request) {
	userID := callerID(req)

	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, r.settings.Get(req.Context(), userID))
	case http.MethodPut:
		var body usersettings.Settings
		if err := decodeBody(req, &body); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := r.settings.Put(req.Context(), userID, body); err != nil {
			log.Error().Err(err).Str("user", userID).Msg("Failed to store user settings")
			writeDetail(w, http.StatusInternalServerError, "Failed to store settings")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"settings": body,
		})
	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
