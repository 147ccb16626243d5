package errors

import (
	"errors"
	"fmt"
)

// Errors raised by the builder and public runtime engines. None of them is
// ever sent to the server.

// ErrInvalidOrExpiredLink is returned when a public token is unknown or past
// its expiry. It is terminal for a filling session.
var ErrInvalidOrExpiredLink = errors.New("invalid or expired link")

// ValidationError is a local check that failed before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PersistenceError is a remote call that failed or answered success=false.
type PersistenceError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *PersistenceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s failed (%d): %s", e.Op, e.Status, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ReorderConflict is a persistence failure of a reorder; the local order has
// been rolled back when it is reported.
type ReorderConflict struct {
	Scope string
	Err   error
}

func (e *ReorderConflict) Error() string {
	return fmt.Sprintf("reorder %s rolled back: %v", e.Scope, e.Err)
}

func (e *ReorderConflict) Unwrap() error {
	return e.Err
}

// AutosaveFailure is a silent draft save failure. It is only ever logged.
type AutosaveFailure struct {
	Err error
}

func (e *AutosaveFailure) Error() string {
	return fmt.Sprintf("autosave failed: %v", e.Err)
}

func (e *AutosaveFailure) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
