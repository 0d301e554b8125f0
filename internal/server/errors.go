package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/localrivet/researchmemory/internal/errortypes"
)

// ErrorResponse represents the structure of error responses sent by the API
type ErrorResponse struct {
	Status  string                 `json:"status"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Common error codes
const (
	// ErrorCodeInvalidRequest indicates the client sent an invalid request
	ErrorCodeInvalidRequest = "INVALID_REQUEST"

	// ErrorCodeResourceNotFound indicates a requested resource was not found
	ErrorCodeResourceNotFound = "RESOURCE_NOT_FOUND"

	// ErrorCodeConflict indicates an external id is already bound
	ErrorCodeConflict = "CONFLICT"

	// ErrorCodeMalformedEntry indicates a source log entry could not be used
	ErrorCodeMalformedEntry = "MALFORMED_ENTRY"

	// ErrorCodeStorageUnavailable indicates the memory store cannot serve requests
	ErrorCodeStorageUnavailable = "STORAGE_UNAVAILABLE"

	// ErrorCodeBadGateway indicates a failure in an upstream service
	ErrorCodeBadGateway = "BAD_GATEWAY"

	// ErrorCodePayloadTooLarge indicates a request body over the size limit
	ErrorCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"

	// ErrorCodeInternalError indicates an internal server error
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// writeErrorResponse writes a structured error response to the HTTP response writer
func writeErrorResponse(w http.ResponseWriter, status int, code, message string, err error) {
	errResp := ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: message,
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}

		if status >= http.StatusInternalServerError {
			errortypes.LogError(nil, err)
		} else {
			slog.Warn("Request rejected", "status_code", status, "error_code", code, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// HandleBadRequest handles 400 Bad Request errors
func HandleBadRequest(w http.ResponseWriter, message string, err error) {
	writeErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, err)
}

// HandleNotFound handles 404 Not Found errors
func HandleNotFound(w http.ResponseWriter, message string, err error) {
	writeErrorResponse(w, http.StatusNotFound, ErrorCodeResourceNotFound, message, err)
}

// HandleConflict handles 409 Conflict errors
func HandleConflict(w http.ResponseWriter, message string, err error) {
	writeErrorResponse(w, http.StatusConflict, ErrorCodeConflict, message, err)
}

// HandleUnprocessable handles 422 Unprocessable Entity errors
func HandleUnprocessable(w http.ResponseWriter, message string, err error) {
	writeErrorResponse(w, http.StatusUnprocessableEntity, ErrorCodeMalformedEntry, message, err)
}

// HandleServiceUnavailable handles 503 Service Unavailable errors
func HandleServiceUnavailable(w http.ResponseWriter, message string, err error) {
	writeErrorResponse(w, http.StatusServiceUnavailable, ErrorCodeStorageUnavailable, message, err)
}

// HandleInternalError handles 500 Internal Server Error errors
func HandleInternalError(w http.ResponseWriter, message string, err error) {
	writeErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, message, err)
}

// HandleBadGateway handles 502 Bad Gateway errors
func HandleBadGateway(w http.ResponseWriter, message string, err error) {
	writeErrorResponse(w, http.StatusBadGateway, ErrorCodeBadGateway, message, err)
}

// ErrorWithStatus creates an error with an HTTP status code
type ErrorWithStatus struct {
	err        error
	statusCode int
	errorCode  string
	message    string
}

// NewErrorWithStatus creates a new error with HTTP status code
func NewErrorWithStatus(err error, status int, code, message string) *ErrorWithStatus {
	return &ErrorWithStatus{
		err:        err,
		statusCode: status,
		errorCode:  code,
		message:    message,
	}
}

// Error returns the error message
func (e *ErrorWithStatus) Error() string {
	if e.message != "" {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error
func (e *ErrorWithStatus) Unwrap() error {
	return e.err
}

// StatusCode returns the HTTP status code
func (e *ErrorWithStatus) StatusCode() int {
	return e.statusCode
}

// ErrorCode returns the application error code
func (e *ErrorWithStatus) ErrorCode() string {
	return e.errorCode
}

// Message returns the client-friendly message
func (e *ErrorWithStatus) Message() string {
	return e.message
}

// HandleError inspects err and writes the matching HTTP response. Sentinel
// kinds win over the outermost AppError type.
func HandleError(w http.ResponseWriter, err error) {
	var statusErr *ErrorWithStatus
	if errors.As(err, &statusErr) {
		writeErrorResponse(w, statusErr.StatusCode(), statusErr.ErrorCode(),
			statusErr.Message(), statusErr.Unwrap())
		return
	}

	switch {
	case errortypes.IsStorageUnavailable(err):
		HandleServiceUnavailable(w, "Memory store unavailable", err)
		return
	case errortypes.IsNotFound(err):
		HandleNotFound(w, "Resource not found", err)
		return
	case errortypes.IsConflict(err):
		HandleConflict(w, "External id already in use", err)
		return
	case errortypes.IsMalformedEntry(err):
		HandleUnprocessable(w, "Malformed log entry", err)
		return
	}

	switch errortypes.TypeOf(err) {
	case errortypes.ErrorTypeValidation:
		HandleBadRequest(w, "Invalid request parameters", err)
	case errortypes.ErrorTypeExternal:
		HandleBadGateway(w, "Downstream service error", err)
	default:
		HandleInternalError(w, "An unexpected error occurred", err)
	}
}
