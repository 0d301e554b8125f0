// Package errortypes provides error types and handling for the research memory service.
package errortypes

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// ErrorType represents the type of error that occurred
type ErrorType string

// Error types
const (
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeDatabase           ErrorType = "database"
	ErrorTypeStorageUnavailable ErrorType = "storage_unavailable"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeMalformed          ErrorType = "malformed"
	ErrorTypeExternal           ErrorType = "external"
	ErrorTypeConfig             ErrorType = "config"
	ErrorTypeInternal           ErrorType = "internal"
)

// Sentinel errors for the conditions callers branch on. Every AppError built
// by the matching constructor wraps its sentinel, so errors.Is works on it.
var (
	// ErrMalformedEntry marks a source log entry without its declared key.
	ErrMalformedEntry = errors.New("malformed log entry")

	// ErrConflict marks a write that would bind an external id twice.
	ErrConflict = errors.New("external id already bound to an active record")

	// ErrStorageUnavailable marks a store that cannot serve requests at all.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrEmbedderUnavailable marks a missing or failing embedder. Search treats
	// it as "no vector signal", never as a failure.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")

	// ErrNotFound marks a lookup for a record that does not exist.
	ErrNotFound = errors.New("not found")
)

// AppError represents an application error with context
type AppError struct {
	Err       error
	Type      ErrorType
	Message   string
	StackInfo string
	Fields    map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Err.Error()
}

// Unwrap unwraps the error to support errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithField adds a field to the error for additional context
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// captureStack captures the stack trace at the call site
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var builder strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "testing/") && !strings.Contains(frame.File, "/go/src/") {
			fmt.Fprintf(&builder, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		}
		if !more {
			break
		}
	}
	return builder.String()
}

func newAppError(errType ErrorType, err error, message string) *AppError {
	if err == nil {
		err = errors.New("unknown error")
	}

	return &AppError{
		Err:       err,
		Type:      errType,
		Message:   message,
		StackInfo: captureStack(),
		Fields:    make(map[string]interface{}),
	}
}

// withSentinel makes err match sentinel under errors.Is without losing err.
func withSentinel(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// ValidationError creates a new validation error
func ValidationError(err error, message string) *AppError {
	return newAppError(ErrorTypeValidation, err, message)
}

// NotFoundError creates a new not-found error wrapping ErrNotFound
func NotFoundError(err error, message string) *AppError {
	return newAppError(ErrorTypeNotFound, withSentinel(ErrNotFound, err), message)
}

// DatabaseError creates a new database error
func DatabaseError(err error, message string) *AppError {
	return newAppError(ErrorTypeDatabase, err, message)
}

// StorageUnavailableError creates a fatal storage error wrapping ErrStorageUnavailable
func StorageUnavailableError(err error, message string) *AppError {
	return newAppError(ErrorTypeStorageUnavailable, withSentinel(ErrStorageUnavailable, err), message)
}

// ConflictError creates a duplicate external id error wrapping ErrConflict
func ConflictError(err error, message string) *AppError {
	return newAppError(ErrorTypeConflict, withSentinel(ErrConflict, err), message)
}

// MalformedEntryError creates a malformed log entry error wrapping ErrMalformedEntry
func MalformedEntryError(err error, message string) *AppError {
	return newAppError(ErrorTypeMalformed, withSentinel(ErrMalformedEntry, err), message)
}

// ExternalError creates a new external error
func ExternalError(err error, message string) *AppError {
	return newAppError(ErrorTypeExternal, err, message)
}

// ConfigError creates a new configuration error
func ConfigError(err error, message string) *AppError {
	return newAppError(ErrorTypeConfig, err, message)
}

// InternalError creates a new internal error
func InternalError(err error, message string) *AppError {
	return newAppError(ErrorTypeInternal, err, message)
}

// LogError logs an AppError using the provided slog.Logger or the default slog logger.
// It logs the error message, type, stack trace, and any associated fields.
func LogError(logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		args := []any{
			"type", string(appErr.Type),
			"original_error", appErr.Err.Error(),
		}
		if appErr.StackInfo != "" {
			args = append(args, "stack", appErr.StackInfo)
		}
		for k, v := range appErr.Fields {
			args = append(args, k, v)
		}
		logger.Error(appErr.Message, args...)
	} else {
		logger.Error(err.Error(), "error", err)
	}
}

// TypeOf returns the ErrorType of the outermost AppError in err's chain, or
// the empty string when err carries none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsNotFound checks if an error reports a missing record
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error reports a duplicate external id
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsMalformedEntry checks if an error reports a malformed log entry
func IsMalformedEntry(err error) bool {
	return errors.Is(err, ErrMalformedEntry)
}

// IsStorageUnavailable checks if an error reports an unusable store
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsEmbedderUnavailable checks if an error reports a missing embedder
func IsEmbedderUnavailable(err error) bool {
	return errors.Is(err, ErrEmbedderUnavailable)
}
