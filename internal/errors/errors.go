package errors

import (
	"fmt"
)

// MarqoError is the structured error type for the Marqo core.
// It provides rich context for error handling, logging, and user presentation.
type MarqoError struct {
	// Code is the unique error code (e.g., "ERR_201_OPERATION_CONFLICT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Validation, Conflict, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *MarqoError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *MarqoError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with MarqoError.
func (e *MarqoError) Is(target error) bool {
	if t, ok := target.(*MarqoError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *MarqoError) WithDetail(key, value string) *MarqoError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new MarqoError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *MarqoError {
	return &MarqoError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new MarqoError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *MarqoError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a MarqoError from an existing error.
// The error's message becomes the MarqoError message.
func Wrap(code string, err error) *MarqoError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidFieldName creates a field-name validation error.
func InvalidFieldName(format string, args ...any) *MarqoError {
	return Newf(ErrCodeInvalidFieldName, format, args...)
}

// InvalidDataType creates a data-type validation error.
func InvalidDataType(format string, args ...any) *MarqoError {
	return Newf(ErrCodeInvalidDataType, format, args...)
}

// InvalidArgument creates an argument validation error.
func InvalidArgument(format string, args ...any) *MarqoError {
	return Newf(ErrCodeInvalidArgument, format, args...)
}

// OperationConflict creates a version-conflict error.
func OperationConflict(format string, args ...any) *MarqoError {
	return Newf(ErrCodeOperationConflict, format, args...)
}

// IndexNotFound creates an index-not-found error.
func IndexNotFound(name string) *MarqoError {
	return Newf(ErrCodeIndexNotFound, "index %s not found", name)
}

// BackendStatus creates an error carrying a non-2xx backend response.
func BackendStatus(status int, message string) *MarqoError {
	e := Newf(ErrCodeBackendStatus, "backend returned status %d: %s", status, message)
	return e.WithDetail("status", fmt.Sprintf("%d", status))
}

// InvalidApplication creates an error for a backend-rejected application package.
func InvalidApplication(message string, cause error) *MarqoError {
	return New(ErrCodeInvalidApplication, message, cause)
}

// Internal creates an internal error for broken invariants.
func Internal(format string, args ...any) *MarqoError {
	return Newf(ErrCodeInternal, format, args...)
}

// CapacityExhausted creates a capacity error.
func CapacityExhausted(format string, args ...any) *MarqoError {
	return Newf(ErrCodeCapacityExhausted, format, args...)
}

// Transient creates a retry-eligible error for timeouts and resets.
func Transient(message string, cause error) *MarqoError {
	return New(ErrCodeTransient, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a MarqoError with the Retryable flag set.
func IsRetryable(err error) bool {
	if e, ok := err.(*MarqoError); ok {
		return e.Retryable
	}
	return false
}

// CodeOf returns the MarqoError code, or ERR_501_INTERNAL for foreign errors.
func CodeOf(err error) string {
	if e, ok := err.(*MarqoError); ok {
		return e.Code
	}
	return ErrCodeInternal
}
