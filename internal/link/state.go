// Package link holds the link lifecycle bookkeeping — the state/cause/retry
// counter triple that must be readable from any goroutine even though it is
// only ever written from the reactor goroutine — and the periodic token
// refresh loop that keeps the CBS channel authorized while a link is open.
package link

import (
	"sync"
	"sync/atomic"
)

// State is one of the tagged variants of the link lifecycle.
type State int32

const (
	Uninitialized State = iota
	Creating
	Open
	Errored
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Creating:
		return "creating"
	case Open:
		return "open"
	case Errored:
		return "errored"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Machine tracks the current link state plus the two pieces of state that
// must survive an Errored -> Creating recreate and still be legible from a
// caller thread: the last known cause and the retry attempt counter. State
// transitions themselves are single-writer (the reactor goroutine) so they
// are stored in an atomic rather than behind the mutex; lastErr and
// retryAttempts are read from caller threads via the error-context snapshot,
// so they get a dedicated mutex.
type Machine struct {
	state State32

	mu            sync.Mutex
	lastErr       error
	retryAttempts int

	onChange func(from, to State)
}

// State32 is an atomic-backed State, split out so tests can construct a
// Machine with a deterministic starting value without racing the atomic.
type State32 struct {
	v atomic.Int32
}

func (s *State32) Load() State     { return State(s.v.Load()) }
func (s *State32) Store(v State)   { s.v.Store(int32(v)) }

// NewMachine returns a Machine starting in Uninitialized. onChange, if
// non-nil, fires synchronously after every successful transition — this is
// the OnLinkStateChange observability hook, kept separate from the
// onOpenRetry test seam.
func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{onChange: onChange}
}

// Load returns the current state. Safe from any goroutine.
func (m *Machine) Load() State {
	return m.state.Load()
}

// transitions enumerates the allowed link state transition table.
// Uninitialized is only ever a starting value, never a transition target, so
// it is intentionally absent from every "to" set below.
var transitions = map[State]map[State]bool{
	Uninitialized: {Creating: true},
	Creating:      {Open: true, Errored: true, Closing: true, Closed: true},
	Open:          {Errored: true, Closing: true, Closed: true},
	Errored:       {Creating: true, Closed: true},
	Closing:       {Closed: true},
	Closed:        {Closed: true}, // terminal, idempotent
}

// TransitionTo moves the machine to "to" if the table allows it from the
// current state, or if "to" is Closed (terminal from anywhere, idempotent).
// It reports whether the transition actually happened.
func (m *Machine) TransitionTo(to State) bool {
	from := m.state.Load()
	if to == Closed {
		if from == Closed {
			return false
		}
		m.state.Store(Closed)
		if m.onChange != nil {
			m.onChange(from, to)
		}
		return true
	}
	if !transitions[from][to] {
		return false
	}
	m.state.Store(to)
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return true
}

// SetLastError records the cause retained across an errored->recreating
// transition, or the terminal failure reason. Cleared on the next successful
// open via ClearLastError.
func (m *Machine) SetLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// ClearLastError clears the retained cause, called on successful open.
func (m *Machine) ClearLastError() {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()
}

// LastError returns the retained cause, or nil.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// IncRetry bumps the retry counter and returns its new value.
func (m *Machine) IncRetry() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryAttempts++
	return m.retryAttempts
}

// ResetRetry zeroes the retry counter, called on successful open.
func (m *Machine) ResetRetry() {
	m.mu.Lock()
	m.retryAttempts = 0
	m.mu.Unlock()
}

// RetryAttempts returns the current retry counter, for error-context
// snapshots.
func (m *Machine) RetryAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryAttempts
}
