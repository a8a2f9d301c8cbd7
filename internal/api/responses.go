// Package api provides HTTP handlers and routing for the interferogram job service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIError is the body of every error response.
type APIError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	RequestID   string `json:"request_id,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest       = "BadRequest"
	ErrCodeNotFound         = "NotFound"
	ErrCodeInvalidParameter = "InvalidParameterValue"
	ErrCodeConflict         = "Conflict"
	ErrCodeServerError      = "ServerError"
	ErrCodeUnavailable      = "ServiceUnavailable"
	ErrCodeMethodNotAllowed = "MethodNotAllowed"
)

// WriteJSON encodes v as the response body. Encoding failures are logged
// and returned; the status line has already been sent by then.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	return writeEncoded(w, status, "application/json", v)
}

// WriteGeoJSON writes a response with the application/geo+json media type.
// STAC items are served this way.
func WriteGeoJSON(w http.ResponseWriter, status int, v any) error {
	return writeEncoded(w, status, "application/geo+json", v)
}

func writeEncoded(w http.ResponseWriter, status int, contentType string, v any) error {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode response", "content_type", contentType, "error", err)
	}
	return err
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorWithRequestID(w, status, code, message, "")
}

// WriteErrorWithRequestID writes an error response that carries the request ID.
func WriteErrorWithRequestID(w http.ResponseWriter, status int, code, message, requestID string) {
	_ = writeEncoded(w, status, "application/json", APIError{Code: code, Description: message, RequestID: requestID})
}

// WriteBadRequest writes a 400 Bad Request error response.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// WriteNotFound writes a 404 Not Found error response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// WriteInvalidParameter writes a 400 Bad Request error for invalid parameters.
func WriteInvalidParameter(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeInvalidParameter, message)
}

// WriteConflict writes a 409 Conflict error response.
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ErrCodeConflict, message)
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeServerError, message)
}

// WriteInternalErrorWithRequestID writes a 500 response carrying the request ID.
func WriteInternalErrorWithRequestID(w http.ResponseWriter, message, requestID string) {
	WriteErrorWithRequestID(w, http.StatusInternalServerError, ErrCodeServerError, message, requestID)
}

// WriteUnavailable writes a 503 Service Unavailable error response.
func WriteUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}
