// Package idbroker hands out unique surrogate primary keys to application code
// running in many processes against one relational database.
//
// The broker itself lives in package broker; this package holds the error
// taxonomy shared by every layer.
package idbroker

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for id generation.
var (
	// ErrEmptyTableName is returned when an id is requested without a table name.
	ErrEmptyTableName = errors.New("idbroker: empty table name")

	// ErrUnknownTable is returned when the key-space table has no row for
	// the requested table.
	ErrUnknownTable = errors.New("idbroker: no key-space row for table")

	// ErrInvalidCount is returned when fewer than one id is requested.
	ErrInvalidCount = errors.New("idbroker: id count must be positive")

	// ErrIDOverflow is returned when an id does not fit the requested
	// numeric representation.
	ErrIDOverflow = errors.New("idbroker: id overflows requested type")

	// ErrConcurrentUpdate is returned when NEXT_ID moved between the read and
	// the write of a replenishment transaction.
	ErrConcurrentUpdate = errors.New("idbroker: key-space row modified concurrently")

	// ErrNoGenerator is returned by tables whose keys are supplied by the application.
	ErrNoGenerator = errors.New("idbroker: table has no id generator")

	// ErrConnRequired is returned when a generator that needs the caller's
	// connection is invoked without one.
	ErrConnRequired = errors.New("idbroker: generator requires a connection")

	// ErrBrokerStopped is returned by operations on a stopped broker that
	// require the housekeeper.
	ErrBrokerStopped = errors.New("idbroker: broker stopped")
)

// GenerationError is the umbrella error returned whenever an id could not be
// produced. Configuration and storage errors also report as generation errors.
type GenerationError struct {
	Table string // Logical table name
	Op    string // Operation (e.g., "reserve", "exists")
	Err   error  // Underlying error
}

// Error returns the error string.
func (e *GenerationError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("idbroker: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("idbroker: %s %q: %v", e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying error.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError returns a new GenerationError.
func NewGenerationError(table, op string, err error) *GenerationError {
	return &GenerationError{Table: table, Op: op, Err: err}
}

// IsGenerationError returns true if the error prevented an id from being
// generated. Configuration and storage errors match as well.
func IsGenerationError(err error) bool {
	if err == nil {
		return false
	}
	var e *GenerationError
	return errors.As(err, &e) || IsConfigError(err) || IsStorageError(err)
}

// ConfigError represents a misconfiguration: a table without a key-space row,
// or a broker that was never pointed at a valid key-space table.
type ConfigError struct {
	Table string
	Err   error
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("idbroker: configuration: %v", e.Err)
	}
	return fmt.Sprintf("idbroker: configuration for table %q: %v", e.Table, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError returns a new ConfigError.
func NewConfigError(table string, err error) *ConfigError {
	return &ConfigError{Table: table, Err: err}
}

// IsConfigError returns true if the error is a ConfigError.
// A bare ErrUnknownTable also matches.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigError
	return errors.As(err, &e) || errors.Is(err, ErrUnknownTable)
}

// StorageError wraps a failure of the replenishment transaction. The key
// advance is not idempotent, so storage errors are never retried internally.
type StorageError struct {
	Table string // Logical table name
	Op    string // Statement or step (e.g., "begin", "select", "commit")
	Err   error  // Underlying driver error
}

// Error returns the error string.
func (e *StorageError) Error() string {
	return fmt.Sprintf("idbroker: storage %s for table %q: %v", e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError returns a new StorageError.
func NewStorageError(table, op string, err error) *StorageError {
	return &StorageError{Table: table, Op: op, Err: err}
}

// IsStorageError returns true if the error is a StorageError.
func IsStorageError(err error) bool {
	if err == nil {
		return false
	}
	var e *StorageError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("idbroker: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// Rollback rolls back the transaction and joins a rollback failure with the
// error that caused it.
func Rollback(tx interface{ Rollback() error }, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return errors.Join(err, &RollbackError{Err: rerr})
	}
	return err
}
