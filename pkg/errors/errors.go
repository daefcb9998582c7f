// Package errors augments standard errors with a Wrap method,
// so that sentinel errors declared by status packages can carry
// an underlying cause without resorting to fmt.Errorf("%w", err).
package errors

import (
	stderr "errors"
)

var _ error = New("")

// New builds a new Error from a message
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error is an error with an optional nested cause.
//
// Unlike github.com/pkg/errors, wrapping starts from an error value,
// not from text: sentinels keep their identity and Wrap attaches a cause.
type Error struct {
	msg string
	err error
}

// Error message
func (e *Error) Error() string {
	return e.msg
}

// Unwrap the nested cause
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap returns a copy of this error with a nested cause attached.
//
// The receiver is left untouched: package-level sentinels may be
// wrapped concurrently from several goroutines.
func (e *Error) Wrap(err error) *Error {
	return &Error{msg: e.msg, err: err}
}

// Is reports whether this error matches target. Copies produced by
// Wrap match their original sentinel.
func (e *Error) Is(target error) bool {
	if e == target {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.msg == e.msg
}

// As finds the first error in err's chain that matches target
// (a shortcut to the standard library errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to the standard library errors.Is)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
