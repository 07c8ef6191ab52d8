// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fitstream/fitstream/internal/assets"
	"github.com/fitstream/fitstream/internal/catalog"
	"github.com/fitstream/fitstream/internal/media/probe"
	"github.com/fitstream/fitstream/internal/media/stream"
	"github.com/fitstream/fitstream/internal/planner"
	"github.com/fitstream/fitstream/internal/store"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error envelope with the given status code.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps pipeline errors to HTTP status codes. Unrecognized errors
// are internal failures.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, assets.ErrUnavailable),
		errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrWorkoutNotFound):
		return http.StatusNotFound
	case errors.Is(err, planner.ErrNoMatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, stream.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, probe.ErrFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure maps err to a status and writes the envelope. Internal
// errors are masked to avoid leaking encoder stderr to clients.
func writeFailure(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "video generation failed"
	}
	writeError(w, code, msg)
}
