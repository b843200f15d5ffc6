package ledger

import (
	"context"
	"fmt"

	"golang.org/x/xerrors"
)

// ErrNotFound is returned when an account does not exist.
var ErrNotFound = xerrors.New("account not found")

// Class is the family of a transient error.
type Class string

const (
	// ClassTimeout is a call that did not answer in time. A write may have
	// been applied.
	ClassTimeout Class = "timeout"
	// ClassStaleNonce is a transaction built on an outdated nonce. It was not
	// applied.
	ClassStaleNonce Class = "stale_nonce"
	// ClassRateLimited is a call refused by the rate limiter. It was not
	// applied.
	ClassRateLimited Class = "rate_limited"
	// ClassUnavailable is an endpoint that could not be reached or failed
	// without an answer. A write may have been applied.
	ClassUnavailable Class = "unavailable"
)

// TransientError is an infrastructure failure that may disappear if the call
// is made again.
type TransientError struct {
	Class Class
	Err   error
}

// NewTransient returns a transient error of the class.
func NewTransient(class Class, err error) error {
	return TransientError{Class: class, Err: err}
}

// Error implements error.
func (e TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transient ledger error (%s)", e.Class)
	}

	return fmt.Sprintf("transient ledger error (%s): %v", e.Class, e.Err)
}

// Unwrap returns the cause.
func (e TransientError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of the transient error in the chain of err. An
// expired context is a timeout.
func ClassOf(err error) (Class, bool) {
	var te TransientError
	if xerrors.As(err, &te) {
		return te.Class, true
	}

	if xerrors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout, true
	}

	return "", false
}

// IsTransient returns true when the call can be made again.
func IsTransient(err error) bool {
	_, ok := ClassOf(err)
	return ok
}

// IsIndeterminate returns true when a write may or may not have been applied
// despite the error.
func IsIndeterminate(err error) bool {
	class, ok := ClassOf(err)
	return ok && (class == ClassTimeout || class == ClassUnavailable)
}

// IsNotApplied returns true when the error proves that a write was not
// applied and can safely be submitted again.
func IsNotApplied(err error) bool {
	class, ok := ClassOf(err)
	return ok && (class == ClassStaleNonce || class == ClassRateLimited)
}
