package server

import (
	"encoding/json"
	"net/http"

	"imagestudio/pkg/domain"
)

// envelope is the response shape the SPA expects. Success is a string flag,
// not a bool; count is present only on list responses.
type envelope struct {
	Success string `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Count   *int   `json:"count,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: "true", Message: message, Data: data})
}

func writeList(w http.ResponseWriter, status int, message string, data any, count int) {
	writeJSON(w, status, envelope{Success: "true", Message: message, Data: data, Count: &count})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: "false", Error: msg})
}

// writeDomainError maps error kinds onto HTTP statuses uniformly.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), domain.MessageOf(err))
}

func statusForError(err error) int {
	switch domain.KindOf(err) {
	case domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
