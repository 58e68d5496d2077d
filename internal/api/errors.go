// ABOUTME: Machine-readable error envelope and kind classification for the HTTP API
// ABOUTME: Maps component sentinel errors to the wire taxonomy and status codes

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/agent-mesh/internal/registry"
	"github.com/2389/agent-mesh/internal/router"
	"github.com/2389/agent-mesh/internal/store"
)

// Error kinds exposed on the wire. Clients use these to pick a retry
// policy: validation, not_found, and conflict are terminal; transient is
// retryable; unavailable means the store behind the coordinator is down
// and the operation should be retried against a healthy deployment.
const (
	KindValidation  = "validation"
	KindNotFound    = "not_found"
	KindConflict    = "conflict"
	KindTransient   = "transient"
	KindUnavailable = "unavailable"
)

// ErrorBody is the JSON error envelope returned by every failing endpoint.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable kind and a human-readable message.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// classify maps a component error to its wire kind and HTTP status.
// Unrecognized errors are reported transient so callers back off and retry.
func classify(err error) (kind string, status int) {
	switch {
	case errors.Is(err, registry.ErrInvalidAgentID),
		errors.Is(err, router.ErrSelfSend),
		errors.Is(err, router.ErrEmptySender),
		errors.Is(err, router.ErrEmptyPayload):
		return KindValidation, http.StatusBadRequest

	case errors.Is(err, registry.ErrUnknownAgent),
		errors.Is(err, router.ErrUnknownTarget),
		errors.Is(err, router.ErrUnknownConsumer):
		return KindNotFound, http.StatusNotFound

	case errors.Is(err, registry.ErrDuplicateRegistration),
		errors.Is(err, registry.ErrAgentUnreachable):
		return KindConflict, http.StatusConflict

	case errors.Is(err, store.ErrUnavailable):
		return KindUnavailable, http.StatusServiceUnavailable

	default:
		return KindTransient, http.StatusServiceUnavailable
	}
}

// writeError sends the JSON error envelope for the given error.
func writeError(w http.ResponseWriter, err error) {
	kind, status := classify(err)
	writeJSON(w, status, ErrorBody{
		Error: ErrorDetail{Kind: kind, Message: err.Error()},
	})
}

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
