// Package outcome provides the two-variant result carrier returned by every
// fallible storage operation.
package outcome

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAnError is the fault raised by UnwrapErr on an Ok result.
	ErrNotAnError = errors.New("result is ok")
	// ErrNotFound is the default error for TryFound when the value is absent.
	ErrNotFound = errors.New("not found")
)

// Result holds either a success value or an error, never both.
// The zero value is Ok with the zero value of T.
type Result[T any] struct {
	value T
	err   error
}

// Void is the result of operations that succeed without a value.
type Void = Result[struct{}]

// Ok wraps a success value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err wraps an error. A nil err is replaced with a generic error so that
// IsErr stays true.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = errors.New("outcome: Err called with nil error")
	}
	return Result[T]{err: err}
}

// Done returns a successful Void.
func Done() Void {
	return Void{}
}

// IsOk reports whether r carries a success value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether r carries an error.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Unwrap returns the success value and panics with the carried error
// otherwise. Only use it where failure is already known to be impossible.
func (r Result[T]) Unwrap() T {
	if r.err != nil {
		panic(r.err)
	}
	return r.value
}

// UnwrapErr returns the carried error and panics with ErrNotAnError on Ok.
func (r Result[T]) UnwrapErr() error {
	if r.err == nil {
		panic(ErrNotAnError)
	}
	return r.err
}

// UnwrapOr returns the success value or def.
func (r Result[T]) UnwrapOr(def T) T {
	if r.err != nil {
		return def
	}
	return r.value
}

// UnwrapOrElse returns the success value or the result of fn.
func (r Result[T]) UnwrapOrElse(fn func() T) T {
	if r.err != nil {
		return fn()
	}
	return r.value
}

// Value returns the result as a conventional (value, error) pair.
func (r Result[T]) Value() (T, error) {
	return r.value, r.err
}

func (r Result[T]) String() string {
	if r.err != nil {
		return fmt.Sprintf("Err(%v)", r.err)
	}
	return fmt.Sprintf("Ok(%v)", r.value)
}

// Try runs fn and converts its error return into Err.
func Try[T any](fn func() (T, error)) Result[T] {
	v, err := fn()
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// TryFound runs fn and maps a missing value (found == false) to
// Err(notFound). If notFound is nil, ErrNotFound is used.
// Callers that accept absence as a valid result should use Try with a
// pointer or optional type instead.
func TryFound[T any](fn func() (T, bool, error), notFound error) Result[T] {
	v, found, err := fn()
	if err != nil {
		return Err[T](err)
	}
	if !found {
		if notFound == nil {
			notFound = ErrNotFound
		}
		return Err[T](notFound)
	}
	return Ok(v)
}

// Map applies fn to the success value of r.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(fn(r.value))
}
