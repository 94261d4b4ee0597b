// Package storage provides durable sinks for incidents, metric samples,
// API access logs and authentication events, backed by ClickHouse with an
// in-memory fallback for degraded operation.
package storage

import (
	"errors"
	"fmt"
)

// Sink error categories.
var (
	// ErrNotConfigured indicates the durable backend is absent and the
	// engine is running on in-memory sinks only.
	ErrNotConfigured = errors.New("storage: backend not configured")

	// ErrConnectionFailed indicates a failure to connect to the database.
	ErrConnectionFailed = errors.New("storage: connection failed")

	// ErrQueryFailed indicates a query execution failure.
	ErrQueryFailed = errors.New("storage: query failed")

	// ErrTransientIO indicates a temporary write failure worth one retry.
	ErrTransientIO = errors.New("storage: transient i/o failure")

	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidData indicates invalid data was provided.
	ErrInvalidData = errors.New("storage: invalid data")
)

// SinkError wraps sink errors with operation context.
type SinkError struct {
	Op    string // Operation that failed (e.g., "AppendIncident", "StatsByIP")
	Table string // Table involved, if applicable
	Err   error  // Underlying error
}

// Error returns the error message.
func (e *SinkError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SinkError) Unwrap() error {
	return e.Err
}

// NewSinkError creates a new SinkError.
func NewSinkError(op, table string, err error) *SinkError {
	return &SinkError{Op: op, Table: table, Err: err}
}

// IsNotConfigured checks whether the error means no durable backend exists.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}

// IsTransient checks whether the error is worth retrying once.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIO) || errors.Is(err, ErrConnectionFailed)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// WrapConnectionError wraps an error as a connection error.
func WrapConnectionError(op string, err error) error {
	return &SinkError{
		Op:  op,
		Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err),
	}
}

// WrapQueryError wraps an error as a query error.
func WrapQueryError(op, table string, err error) error {
	return &SinkError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: %v", ErrQueryFailed, err),
	}
}

// WrapTransientError wraps an error as a transient write failure.
func WrapTransientError(op, table string, err error) error {
	return &SinkError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: %v", ErrTransientIO, err),
	}
}
