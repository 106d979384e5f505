package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes a structured error body
func WriteErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	_ = WriteJSON(w, status, resp)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, status, ErrorResponse{Error: message})
}

// StatusForError maps an error category to an HTTP status
func StatusForError(err error) int {
	switch {
	case errors.Is(err, authzerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, authzerr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, authzerr.ErrConflict), errors.Is(err, authzerr.ErrRoleInUse):
		return http.StatusConflict
	case errors.Is(err, authzerr.ErrImmutable):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError writes err with the status of its category. Errors
// outside the authzerr taxonomy become a generic 500 so internals never leak.
func WriteDomainError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		WriteErrorResponse(w, status, ErrorResponse{Error: "internal server error", Code: "INTERNAL"})
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	var coded authzerr.Coded
	if errors.As(err, &coded) {
		resp.Error = coded.Error()
		resp.Code = coded.Code()
		resp.Details = coded.Details()
	}
	WriteErrorResponse(w, status, resp)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, message)
}

// WriteInternalError writes a generic 500 without exposing err
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
