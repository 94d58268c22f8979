package storage

import (
	"errors"
	"fmt"

	"nestkv/internal/outcome"
)

var (
	// ErrNotFound is returned when a key, field or index is absent. It is
	// the same value as outcome.ErrNotFound.
	ErrNotFound = outcome.ErrNotFound
	// ErrIndexOutOfRange is returned by positional list access. It matches
	// ErrNotFound with errors.Is.
	ErrIndexOutOfRange = fmt.Errorf("index out of range: %w", ErrNotFound)
	// ErrTypeMismatch is returned when arithmetic meets a non-numeric value.
	ErrTypeMismatch = errors.New("value is not a number")
	// ErrEmpty is returned by Max, Min and Avg over an empty collection.
	ErrEmpty = errors.New("collection is empty")
	// ErrBackend matches every *BackendError.
	ErrBackend = errors.New("backend failure")

	ErrInvalidVisibility = errors.New("invalid visibility")

	errOrdinalsExhausted = errors.New("ordinal space exhausted")
)

// BackendError wraps a failure raised by the backing store.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrBackend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBackend) hold.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// classify passes domain errors through and wraps everything else.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTypeMismatch) || errors.Is(err, ErrEmpty) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}
