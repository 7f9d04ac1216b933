// Package errors provides error code definitions for the FieldSync engine.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
)

// ErrorCode represents a unique error code surfaced to callers.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Optimistic update state errors
	ErrInvalidState       ErrorCode = "INVALID_STATE"
	ErrRetryLimitExceeded ErrorCode = "RETRY_LIMIT_EXCEEDED"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrQueueFull ErrorCode = "QUEUE_FULL"

	// Transport errors (closed set, recorded on queue records)
	ErrNetwork      ErrorCode = "NETWORK_ERROR"
	ErrTimeout      ErrorCode = "TIMEOUT"
	ErrAuthExpired  ErrorCode = "AUTH_EXPIRED"
	ErrAccessDenied ErrorCode = "ACCESS_DENIED"
	ErrServer       ErrorCode = "SERVER_ERROR"
	ErrConflict     ErrorCode = "CONFLICT"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the error code, or ErrInternal for uncategorized errors.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// CategorizeTransport maps a failed sync attempt onto the closed
// transport taxonomy used for user-facing simplification. statusCode is
// zero when no HTTP response was received.
func CategorizeTransport(statusCode int, err error) *AppError {
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return Wrap(ErrTimeout, "request timed out", err)
		}
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return Wrap(ErrTimeout, "request timed out", err)
		}
		return Wrap(ErrNetwork, "network request failed", err)
	}

	switch {
	case statusCode == 401:
		return New(ErrAuthExpired, "authentication expired")
	case statusCode == 403:
		return New(ErrAccessDenied, "access denied")
	case statusCode == 409:
		return New(ErrConflict, "remote reported a conflict")
	case statusCode == 400 || statusCode == 422:
		return New(ErrValidation, "remote rejected the payload")
	case statusCode >= 500:
		return New(ErrServer, fmt.Sprintf("server error (status %d)", statusCode))
	default:
		return New(ErrServer, fmt.Sprintf("unexpected status %d", statusCode))
	}
}
