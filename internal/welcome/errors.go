// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package welcome

import (
	"errors"
	"fmt"
)

// Kind classifies orchestrator failures.
type Kind int

const (
	// KindContextUnavailable: the keyring could not be obtained. Fatal for
	// the session.
	KindContextUnavailable Kind = iota + 1
	// KindOperationFailed: the keyring rejected an operation.
	KindOperationFailed
	// KindUserCancelled: the user declined a confirmation or passphrase.
	KindUserCancelled
	// KindMalformedInput: the input could not be read or understood.
	KindMalformedInput
)

func (k Kind) String() string {
	switch k {
	case KindContextUnavailable:
		return "context unavailable"
	case KindOperationFailed:
		return "operation failed"
	case KindUserCancelled:
		return "user cancelled"
	case KindMalformedInput:
		return "malformed input"
	}
	return "unknown"
}

var (
	// ErrContextUnavailable is wrapped by every KindContextUnavailable error.
	ErrContextUnavailable = errors.New("keyring context unavailable")
	// ErrBusy is returned while another keyring operation is in flight.
	ErrBusy = errors.New("another keyring operation is in progress")
	// ErrNotReady is returned for actions the session does not accept in
	// its current phase.
	ErrNotReady = errors.New("setup is not awaiting this action")
	// ErrStale is returned when a result arrived for a superseded activation.
	ErrStale = errors.New("setup session was superseded")
)

// Error is the error type returned by the orchestrator.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k})
// works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
