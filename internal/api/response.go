// Helper functions for sending standardized JSON responses.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vrsandeep/stream-go/internal/installer"
	"github.com/vrsandeep/stream-go/internal/plugins"
)

// RespondWithJSON writes a JSON response with the given status code and payload.
func RespondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		// If marshaling fails, return an error response
		RespondWithError(w, http.StatusInternalServerError, "Failed to marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithError writes a standardized JSON error response.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps installer errors to status codes. Errors it
// does not recognize are answered with fallback.
func respondWithServiceError(w http.ResponseWriter, err error, fallback int) {
	code := fallback
	switch {
	case errors.Is(err, installer.ErrRepositoryNotFound), errors.Is(err, installer.ErrPluginNotFound):
		code = http.StatusNotFound
	case errors.Is(err, installer.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, installer.ErrInstallFailed), errors.Is(err, plugins.ErrIncompatibleAPI):
		code = http.StatusUnprocessableEntity
	}
	RespondWithError(w, code, err.Error())
}

// decodeJSON decodes the request body into v and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
