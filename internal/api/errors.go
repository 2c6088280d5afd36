package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorCode represents machine-readable error codes
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"

	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidJSON     ErrorCode = "INVALID_JSON"
	ErrCodeInvalidRollout  ErrorCode = "INVALID_ROLLOUT"
	ErrCodeInvalidEnv      ErrorCode = "INVALID_ENV"
	ErrCodeVersionConflict ErrorCode = "VERSION_CONFLICT"
	ErrCodeResyncRequired  ErrorCode = "RESYNC_REQUIRED"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error     string    `json:"error"`                // HTTP status text
	Message   string    `json:"message"`              // Human-readable description
	Code      ErrorCode `json:"code"`                 // Machine-readable error code
	RequestID string    `json:"request_id,omitempty"` // Request ID for debugging
}

// writeErrorResponse writes a structured error response
func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, code ErrorCode, message string) {
	resp := &ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	}
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		resp.RequestID = reqID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// BadRequestError creates a bad request error response
func BadRequestError(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	writeErrorResponse(w, r, http.StatusBadRequest, code, message)
}

// UnauthorizedError creates an unauthorized error response
func UnauthorizedError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// ForbiddenError creates a forbidden error response
func ForbiddenError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFoundError creates a not found error response
func NotFoundError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusNotFound, ErrCodeNotFound, message)
}

// ConflictError creates a version conflict error response
func ConflictError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusConflict, ErrCodeVersionConflict, message)
}

// UnavailableError creates a service unavailable error response
func UnavailableError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// InternalError creates an internal server error response
func InternalError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusInternalServerError, ErrCodeInternal, message)
}
