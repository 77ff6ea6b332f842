// Package errors defines stable error codes for all reva failure modes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// BackendUnavailable indicates the AI backend is not reachable
	BackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// Timeout indicates an AI backend call timed out
	Timeout ErrorCode = "TIMEOUT"
	// RateLimited indicates the outbound request budget is exhausted
	RateLimited ErrorCode = "RATE_LIMITED"
	// MalformedResponse indicates the AI backend returned unparseable content
	MalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	// RunNotFound indicates the requested analysis run doesn't exist
	RunNotFound ErrorCode = "RUN_NOT_FOUND"
	// RunConflict indicates a run for the same project is already processing
	RunConflict ErrorCode = "RUN_CONFLICT"
	// RunNotCancellable indicates the run is already in a terminal state
	RunNotCancellable ErrorCode = "RUN_NOT_CANCELLABLE"
	// InvalidRequest indicates invalid caller input
	InvalidRequest ErrorCode = "INVALID_REQUEST"
	// PersistenceFailed indicates the run store is unreachable or rejected a write
	PersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// RevaError represents a reva error with a stable code and message
type RevaError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new RevaError
func New(code ErrorCode, message string, cause error) *RevaError {
	return &RevaError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *RevaError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *RevaError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *RevaError) WithDetails(details interface{}) *RevaError {
	e.Details = details
	return e
}

// CodeOf extracts the error code from err, or INTERNAL_ERROR if err carries none.
func CodeOf(err error) ErrorCode {
	var re *RevaError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var re *RevaError
	if stderrors.As(err, &re) {
		return re.Code == code
	}
	return false
}
