// shared/api/response.go
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// JSONErrorResponse defines a standard structure for API error responses.
type JSONErrorResponse struct {
	Message    string   `json:"message"`
	Code       int      `json:"code,omitempty"`       // The HTTP status code
	Details    string   `json:"details,omitempty"`    // Optional: for more detailed error info
	Violations []string `json:"violations,omitempty"` // Every violated input constraint, for validation failures
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeErrorResponse(w, JSONErrorResponse{Message: message, Code: status})
}

// WriteValidationError writes a 400 response listing every violation.
func WriteValidationError(w http.ResponseWriter, message string, violations []string) {
	writeErrorResponse(w, JSONErrorResponse{
		Message:    message,
		Code:       http.StatusBadRequest,
		Violations: violations,
	})
}

// WriteRetryableError writes an error response with a Retry-After header.
func WriteRetryableError(w http.ResponseWriter, status int, message string, retryAfter time.Duration) {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteError(w, status, message)
}

func writeErrorResponse(w http.ResponseWriter, errResp JSONErrorResponse) {
	// Attempt to write JSON, fall back to plain text if JSON encoding fails
	if err := WriteJSON(w, errResp.Code, errResp); err != nil {
		zap.L().Error("failed to write JSON error response", zap.Error(err))
		http.Error(w, errResp.Message, errResp.Code)
	}
}

// WriteBadRequest convenience function
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteNotFound convenience function
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteServiceUnavailable convenience function
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, message)
}
