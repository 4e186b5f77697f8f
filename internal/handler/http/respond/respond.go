// Package respond provides utilities for sending HTTP responses in JSON
// format. Error responses are sanitized to avoid leaking credentials or
// internal details to clients.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"gamidash/internal/resilience/classify"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Headers are already sent, so log and move on.
			slog.Default().Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// safeMarkers identify error messages that are safe to show users,
// typically validation failures phrased for the caller.
var safeMarkers = []string{
	"required",
	"invalid",
	"not found",
	"already exists",
	"must be",
	"cannot be",
	"too long",
	"too short",
}

// SafeError sanitizes error messages before returning them to users.
// Validation-style errors pass through as-is; anything else (and every
// 5xx) is logged with secrets masked and replaced by a generic message.
func SafeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		return
	}

	msg := err.Error()
	isSafe := false
	lowerMsg := strings.ToLower(msg)
	for _, marker := range safeMarkers {
		if strings.Contains(lowerMsg, marker) {
			isSafe = true
			break
		}
	}
	if code >= 500 {
		isSafe = false
	}

	if isSafe {
		JSON(w, code, map[string]string{"error": msg})
		return
	}

	slog.Default().Error("internal server error",
		slog.String("status", http.StatusText(code)),
		slog.Int("code", code),
		slog.String("error", SanitizeError(err)))
	JSON(w, code, map[string]string{"error": "internal server error"})
}

// ClassifiedErrorBody is the JSON shape for classified failures.
type ClassifiedErrorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// Classified writes a classified failure as JSON, using the error's
// user-facing message and a status code derived from its kind.
func Classified(w http.ResponseWriter, ce *classify.ClassifiedError) {
	JSON(w, statusForKind(ce.Kind), ClassifiedErrorBody{
		Error:     ce.UserMessage,
		Kind:      string(ce.Kind),
		Retryable: ce.Retryable,
	})
}

func statusForKind(kind classify.Kind) int {
	switch kind {
	case classify.KindAuthentication:
		return http.StatusUnauthorized
	case classify.KindValidation:
		return http.StatusBadRequest
	case classify.KindRemoteService:
		return http.StatusBadGateway
	case classify.KindNetwork:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
