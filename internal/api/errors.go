package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zkgate/zkgate-core/internal/zk"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeUnauthorized  = "unauthorised"
	ErrCodeConflict      = "conflict"
	ErrCodeUnreachable   = "terminal_unreachable"
	ErrCodeDeviceRefused = "terminal_refused"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeTerminalError maps a session error onto the HTTP surface.
//
//   - not found                -> 404
//   - invalid enroll number    -> 400
//   - session not connected    -> 409 (connect first)
//   - terminal unreachable     -> 502
//   - terminal refused command -> 502
//   - anything else            -> 500
func writeTerminalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, zk.ErrNotFound):
		writeNotFound(w, "user not found on terminal")
	case errors.Is(err, zk.ErrInvalidEnrollNumber):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "enroll number must be a positive integer string")
	case errors.Is(err, zk.ErrNotConnected):
		writeError(w, http.StatusConflict, ErrCodeConflict, "terminal session not connected")
	case errors.Is(err, zk.ErrUnreachable):
		writeError(w, http.StatusBadGateway, ErrCodeUnreachable, "terminal unreachable: "+err.Error())
	case errors.Is(err, zk.ErrOperationFailed):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceRefused, "terminal refused the command")
	default:
		writeInternalError(w, "terminal operation failed: "+err.Error())
	}
}
