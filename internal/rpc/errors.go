package rpc

import (
	"encoding/json"
	"net/http"

	"wtmux/internal/wireerr"
)

// errorBody is the wire shape of a failed RPC: {"kind": "...", "message": "..."}.
type errorBody struct {
	Kind    wireerr.Kind `json:"kind"`
	Message string       `json:"message"`
}

// statusFor maps a wire Kind to the HTTP status spec.md §7 assigns it.
func statusFor(kind wireerr.Kind) int {
	switch kind {
	case wireerr.NotFound:
		return http.StatusNotFound
	case wireerr.InvalidArgument:
		return http.StatusBadRequest
	case wireerr.FailedPrecondition:
		return http.StatusConflict
	case wireerr.AlreadyExists:
		return http.StatusConflict
	case wireerr.PermissionDenied:
		return http.StatusForbidden
	case wireerr.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err (defaulting unclassified errors to Internal)
// and writes the JSON error body with the matching HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := wireerr.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	json.NewEncoder(w).Encode(errorBody{Kind: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The response is already partially written; nothing more to do.
		return
	}
}
