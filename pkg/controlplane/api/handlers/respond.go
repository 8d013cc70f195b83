// Package handlers implements the admin API endpoint handlers.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/thumbsup-team/securenas/internal/logger"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode API response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

// Conflict writes a 409 response.
func Conflict(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusConflict, msg)
}

// InternalServerError writes a 500 response.
func InternalServerError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, msg)
}
