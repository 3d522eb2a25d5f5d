package dberrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndWrap(t *testing.T) {
	err := New(ErrorTypeConnection, "dial failed")
	assert.Equal(t, ErrorTypeConnection, err.Type)
	assert.Contains(t, err.Error(), "connection: dial failed")
	assert.Nil(t, err.Unwrap())

	cause := errors.New("network unreachable")
	wrapped := Wrap(cause, ErrorTypeConnection, "dial failed")
	require.NotNil(t, wrapped)
	assert.Equal(t, cause, wrapped.Unwrap())
	assert.True(t, errors.Is(wrapped, cause))
	assert.Contains(t, wrapped.Error(), "network unreachable")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeConnection, "no-op"))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypePoolExhausted, "pool full").
		WithDetail("pool", "postgres://db:5432/app").
		WithDetail("wait_timeout", "30s")

	assert.Equal(t, "postgres://db:5432/app", err.Details["pool"])
	assert.Equal(t, "30s", err.Details["wait_timeout"])
}

func TestRetryExhausted(t *testing.T) {
	cause := New(ErrorTypeConnectionTimeout, "attempt timed out")
	err := RetryExhausted(cause, 3, 1500*time.Millisecond)

	assert.Equal(t, ErrorTypeRetryExhausted, err.Type)
	assert.Equal(t, 3, err.Attempts)
	assert.Equal(t, 1500*time.Millisecond, err.Elapsed)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "attempts=3")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
	}{
		{ErrorTypeConnection, true},
		{ErrorTypeConnectionTimeout, true},
		{ErrorTypeOperationTimeout, true},
		{ErrorTypeConfig, false},
		{ErrorTypeTotalTimeout, false},
		{ErrorTypePoolExhausted, false},
		{ErrorTypeOperation, false},
		{ErrorTypeRetryExhausted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(New(tt.errType, "x")))
		})
	}

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeOperation, TypeOf(New(ErrorTypeOperation, "x")))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
	assert.Equal(t, ErrorType(""), TypeOf(nil))

	// Wrapping with fmt keeps the taxonomy visible through the chain
	outer := fmt.Errorf("handler: %w", New(ErrorTypeConnection, "x"))
	assert.Equal(t, ErrorTypeConnection, TypeOf(outer))
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypePoolExhausted, "pool full")
	assert.True(t, IsType(err, ErrorTypePoolExhausted))
	assert.False(t, IsType(err, ErrorTypeConnection))
	assert.False(t, IsType(errors.New("plain"), ErrorTypePoolExhausted))
}
