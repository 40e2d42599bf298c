package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/meridian-vc/backoffice/internal/pkg/logger"
)

// respondJSON writes v as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Error("encoding response", "error", err)
		}
	}
}

// respondError writes a JSON error envelope. Callers must pass a message
// already safe for public consumption; use respondSafeError for 5xx paths.
func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

// respondSafeError logs the full internal error server-side and returns a
// sanitized message to the client. Internal detail (store errors, file
// paths, hostnames) never reaches API consumers.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if internalErr != nil {
		logger.Error("request failed", "status", code, "error", internalErr, "public", publicMsg)
	}
	respondError(w, code, publicMsg)
}

// safeErrorMessage maps internal error patterns to public-safe messages.
// 4xx messages describe user input and pass through; 5xx messages are
// always generic.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}

	if internalErr == nil {
		return "An internal error occurred"
	}

	errStr := strings.ToLower(internalErr.Error())

	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "dynamodb") ||
		strings.Contains(errStr, "provisioned") ||
		strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "query") ||
		strings.Contains(errStr, "storage"):
		return "A storage error occurred"

	case strings.Contains(errStr, "json") ||
		strings.Contains(errStr, "unmarshal") ||
		strings.Contains(errStr, "marshal") ||
		strings.Contains(errStr, "decode") ||
		strings.Contains(errStr, "parse"):
		return "Invalid request format"

	default:
		return "An internal error occurred"
	}
}
