package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Rejection reason codes surfaced to callers. The body never says which
// guard rule matched or why a token failed.
const (
	codeUnauthenticated    = "unauthenticated"
	codeRateLimited        = "rate_limited"
	codeForbidden          = "forbidden"
	codeServiceUnavailable = "service_unavailable"
	codeInvalidRequest     = "invalid_request"
	codeInternalError      = "internal_error"
	codeNotFound           = "not_found"
	codeConflict           = "conflict"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
// Buffer-first so headers are only sent after successful encoding and a
// proper 500 can still go out if encoding fails.
func writeJSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message}, logger)
}

// writeRateLimited writes a 429 with both the Retry-After header and a
// machine-readable retry hint in the body.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, logger *slog.Logger) {
	seconds := int64(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:             codeRateLimited,
		Message:           "too many requests",
		RetryAfterSeconds: seconds,
	}, logger)
}
