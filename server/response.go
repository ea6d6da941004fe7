package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/troupelabs/troupe/errors"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeWrappedError logs the underlying cause and writes a stable
// client-facing message.
func writeWrappedError(w http.ResponseWriter, log *zap.SugaredLogger, err error, message string, status int) {
	log.Errorw(message, "error", err)
	writeError(w, status, message)
}

// handleError picks the HTTP status from the error's domain sentinel.
// Validation errors carry their own text to the client; everything else is
// logged and answered with the stable message only.
func handleError(w http.ResponseWriter, log *zap.SugaredLogger, err error, message string) {
	switch {
	case errors.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, message+": not found")
	case errors.Is(err, errors.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrConflict):
		writeError(w, http.StatusConflict, message+": conflict")
	case errors.Is(err, errors.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, message)
	default:
		writeWrappedError(w, log, err, message, http.StatusInternalServerError)
	}
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return err
	}
	return nil
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// requireMethods checks if the request method matches one of the expected methods
func requireMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// extractPathParts extracts path segments after removing a prefix
func extractPathParts(urlPath, prefix string) []string {
	return strings.Split(strings.TrimPrefix(urlPath, prefix), "/")
}

// rawOrString projects a stored JSON column for a response. Stored text is
// passed through when it is valid JSON and quoted otherwise, so the response
// body stays well-formed either way.
func rawOrString(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
