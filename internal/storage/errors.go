package storage

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrValidation marks malformed input rejected before any transaction opens.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound marks a referenced or requested row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTxExhausted is returned once the retry budget for lock contention is spent.
	ErrTxExhausted = errors.New("transaction exhausted")
	// ErrNoRowID is returned when an insert does not yield an identifier.
	ErrNoRowID = errors.New("insert returned no row id")
	// ErrReadOnlyTx is returned when a mutation is attempted on a read transaction.
	ErrReadOnlyTx = errors.New("write on read-only transaction")
)

// ValidationError describes a rejected argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ReferenceError reports a missing row that an operation depends on.
type ReferenceError struct {
	Entity string
	ID     int64
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *ReferenceError) Unwrap() error { return ErrNotFound }

// ExhaustedError keeps the attempt count and the last lock failure for
// diagnostics. It only unwraps to ErrTxExhausted.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("transaction exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return ErrTxExhausted }

// IsLockError reports whether err is SQLite lock contention.
func IsLockError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
