package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/nodelink-core/internal/bridge"
	"github.com/nerrad567/nodelink-core/internal/node"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeTimeout      = "timeout"
	ErrCodeInternal     = "internal_error"
)

// Sentinel errors.
var (
	// ErrMissingLogger is returned by New when no logger is supplied.
	ErrMissingLogger = errors.New("api: logger is required")

	// ErrMissingRegistry is returned by New when no registry is supplied.
	ErrMissingRegistry = errors.New("api: registry is required")

	// ErrTokenInvalid is returned when a bearer token fails validation.
	ErrTokenInvalid = errors.New("api: invalid token")
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

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeRegistryError maps a registry error onto an HTTP status.
func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, node.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, bridge.ErrInvalidRequest),
		errors.Is(err, node.ErrUnknownFunction),
		errors.Is(err, node.ErrUnknownParameter),
		errors.Is(err, node.ErrArgumentCount),
		errors.Is(err, node.ErrOutOfRange):
		writeBadRequest(w, err.Error())
	case errors.Is(err, node.ErrNoReply),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
