// Package herrors defines the error kinds the hub's core distinguishes when
// deciding whether to report, retry, close a session, or crash the process.
// Assertion violations have no Kind here — they panic instead of wrapping.
package herrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of session/room teardown and
// retry policy. It deliberately has no ProgrammerError value: assertion
// violations panic instead of being wrapped, per spec.
type Kind int

const (
	// KindProtocol: malformed or out-of-order inbound frame. Reported as an
	// error frame to the sender; the session usually stays open.
	KindProtocol Kind = iota
	// KindAuthorization: connect-time token failed to validate.
	KindAuthorization
	// KindResource: flood or outbound-queue overflow. Closes the session.
	KindResource
	// KindNotFound: a strict operation referenced a room that doesn't exist.
	KindNotFound
	// KindPersistence: a store/bus failure. Retryable unless Fatal is set.
	KindPersistence
)

// Error is the hub's typed error. Code is the wire-level error code to send
// back on an `error` frame (see internal/wire), when one applies.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fatal   bool
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Protocol(code, msg string) *Error {
	return &Error{Kind: KindProtocol, Code: code, Message: msg}
}

func Authorization(code, msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: msg}
}

func Resource(code, msg string) *Error {
	return &Error{Kind: KindResource, Code: code, Message: msg}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Persistence wraps a store/bus error. fatal=false marks it retryable with
// capped exponential backoff (see internal/store's retry wrapper).
func Persistence(msg string, err error, fatal bool) *Error {
	return &Error{Kind: KindPersistence, Code: "INTERNAL", Message: msg, Err: err, Fatal: fatal}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, k Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == k
	}
	return false
}

// ErrAlreadyExists is returned by store.Repository.CreateRoom on a primary-key
// collision; it is not itself an *Error because the caller (REST layer)
// needs to distinguish it from every other persistence failure with a 409.
var ErrAlreadyExists = errors.New("room already exists")

// ErrNotFound is returned by store lookups that find nothing, distinct from
// the wire-level KindNotFound which additionally carries a code/message for
// the `error` frame.
var ErrNotFound = errors.New("not found")
