// Package dberrors provides the structured error taxonomy for dbguard.
// Raw backend failures are normalized into these kinds at the driver
// boundary; everything above that boundary only sees taxonomy errors.
package dberrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConfig represents invalid or missing configuration. Never retried.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents a failure to establish a physical connection
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConnectionTimeout represents a timeout while establishing a connection
	ErrorTypeConnectionTimeout ErrorType = "connection_timeout"
	// ErrorTypeOperationTimeout represents a timeout during a single attempt
	ErrorTypeOperationTimeout ErrorType = "operation_timeout"
	// ErrorTypeTotalTimeout represents exhaustion of the total timeout budget.
	// It is the retry ceiling and is never retried.
	ErrorTypeTotalTimeout ErrorType = "total_timeout"
	// ErrorTypePoolExhausted means no connection became available within the
	// pool wait timeout. The inner retry executor does not retry it.
	ErrorTypePoolExhausted ErrorType = "pool_exhausted"
	// ErrorTypeOperation represents a backend-rejected or failed operation
	ErrorTypeOperation ErrorType = "operation"
	// ErrorTypeRetryExhausted wraps the last failure after attempts ran out
	ErrorTypeRetryExhausted ErrorType = "retry_exhausted"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}

	// Attempts and Elapsed are populated on retry exhaustion
	Attempts int
	Elapsed  time.Duration
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Type == ErrorTypeRetryExhausted {
		return fmt.Sprintf("%s: %s (attempts=%d elapsed=%s): %v", e.Type, e.Message, e.Attempts, e.Elapsed, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// RetryExhausted builds the terminal error raised when attempts run out or a
// non-retriable failure occurs after at least one attempt.
func RetryExhausted(cause error, attempts int, elapsed time.Duration) *Error {
	return &Error{
		Type:     ErrorTypeRetryExhausted,
		Message:  "all attempts failed",
		Cause:    cause,
		Attempts: attempts,
		Elapsed:  elapsed,
	}
}

// IsRetryable reports whether the error may be retried by the default
// retriable predicate. Pool exhaustion already represents a bounded wait and
// is excluded; the total timeout is the retry ceiling itself.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConnection, ErrorTypeConnectionTimeout, ErrorTypeOperationTimeout:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the taxonomy type of err, or an empty string for errors
// outside the taxonomy.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}
