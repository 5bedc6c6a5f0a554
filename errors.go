package ehreceiver

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced synchronously from the facade.
var (
	// ErrArgument is returned synchronously when max_batch is out of range
	// (0, or greater than the prefetch target) or receive_timeout is
	// non-positive.
	ErrArgument = errors.New("ehreceiver: argument out of range")

	// ErrClosed is returned by Receive once the link has reached the Closed
	// state, and completes receives still queued when that happens.
	ErrClosed = errors.New("ehreceiver: receiver is already closed")

	// ErrOpenTimeout fails the open future when the peer never acks attach
	// within the operation timeout.
	ErrOpenTimeout = errors.New("ehreceiver: timed out waiting for link to open")

	// ErrCloseTimeout fails the close future when the peer never confirms
	// detach within the operation timeout.
	ErrCloseTimeout = errors.New("ehreceiver: timed out waiting for link to close")
)

// LinkError wraps a cause reported through the link's on_error callback with
// the classification the retry policy and the state machine need: whether
// the cause is transient (retryable) or terminal, and the AMQP error
// condition string reported by the peer, if any.
type LinkError struct {
	Cause     error
	Transient bool
	Condition string
}

func (e *LinkError) Error() string {
	if e.Condition != "" {
		return fmt.Sprintf("ehreceiver: link error [%s]: %v", e.Condition, e.Cause)
	}
	return fmt.Sprintf("ehreceiver: link error: %v", e.Cause)
}

func (e *LinkError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a *LinkError marked transient. A nil or
// non-LinkError err is treated as non-transient (terminal), since only the
// link's own error classification grants a retry.
func IsTransient(err error) bool {
	var le *LinkError
	if errors.As(err, &le) {
		return le.Transient
	}
	return false
}

// ErrRejectedExecution mirrors internal/reactor.ErrRejected at the public API
// boundary, for callers that need to distinguish "the underlying reactor
// shut down" from other dispatch failures without importing the internal
// package.
var ErrRejectedExecution = errors.New("ehreceiver: reactor rejected execution")
