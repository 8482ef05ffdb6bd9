package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/grayrelay/internal/pool"
	"github.com/nerrad567/grayrelay/internal/pubsub"
	"github.com/nerrad567/grayrelay/internal/registry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeNoConnection   = "no_connection"
	ErrCodeUnavailable    = "relay_unavailable"
	ErrCodeCheckout       = "checkout_timeout"
	ErrCodeTransport      = "transport_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeUnavailable writes a 503 for a node whose relay is not running.
func writeUnavailable(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "relay is not running")
}

// writeRelayError maps a relay error to its HTTP status.
func writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pubsub.ErrInvalidTopic), errors.Is(err, registry.ErrInvalidTopic),
		errors.Is(err, registry.ErrInvalidSubscriber):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, pubsub.ErrNoConnection):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNoConnection, err.Error())
	case errors.Is(err, pubsub.ErrStopped), errors.Is(err, pool.ErrClosed):
		writeUnavailable(w)
	case errors.Is(err, pool.ErrCheckoutTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeCheckout, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeTransport, err.Error())
	}
}
