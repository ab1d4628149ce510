package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a dirsync error code.
type ErrorCode string

const (
	ErrInvalidRequest          ErrorCode = "INVALID_REQUEST"           // 400
	ErrNotFound                ErrorCode = "NOT_FOUND"                 // 404
	ErrResolutionFailed        ErrorCode = "RESOLUTION_FAILED"         // 424
	ErrWatchRegistrationFailed ErrorCode = "WATCH_REGISTRATION_FAILED" // 503
	ErrInternal                ErrorCode = "INTERNAL"                  // 500
)

// DirsyncError represents a structured error with code, status, and details.
type DirsyncError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *DirsyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *DirsyncError {
	return &DirsyncError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a path or item id that is not in the store.
// Lookups race with removals, so callers usually treat this as a no-op.
func NewNotFound(identifier string) *DirsyncError {
	return &DirsyncError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("item not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewResolutionFailed creates an error for a metadata re-read that could not resolve a path.
func NewResolutionFailed(path string, cause error) *DirsyncError {
	details := map[string]any{"path": path}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return &DirsyncError{
		Code:    ErrResolutionFailed,
		Status:  424,
		Message: fmt.Sprintf("could not resolve %q", path),
		Details: details,
	}
}

// NewWatchRegistrationFailed creates an error for a directory that could not be monitored.
func NewWatchRegistrationFailed(dir string, cause error) *DirsyncError {
	details := map[string]any{"directory": dir}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return &DirsyncError{
		Code:    ErrWatchRegistrationFailed,
		Status:  503,
		Message: fmt.Sprintf("couldn't monitor directory %q for changes", dir),
		Details: details,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the cause is kept in Details for logging.
func NewInternal(err error) *DirsyncError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &DirsyncError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error is (or wraps) a DirsyncError with the given code.
func Is(err error, code ErrorCode) bool {
	var dErr *DirsyncError
	if stderrors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}
