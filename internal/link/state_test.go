package link

import "testing"

func TestMachine_HappyPathTransitions(t *testing.T) {
	var events [][2]State
	m := NewMachine(func(from, to State) { events = append(events, [2]State{from, to}) })

	if !m.TransitionTo(Creating) {
		t.Fatal("Uninitialized -> Creating should be allowed")
	}
	if !m.TransitionTo(Open) {
		t.Fatal("Creating -> Open should be allowed")
	}
	if m.Load() != Open {
		t.Fatalf("expected Open, got %v", m.Load())
	}
	if !m.TransitionTo(Closing) {
		t.Fatal("Open -> Closing should be allowed")
	}
	if !m.TransitionTo(Closed) {
		t.Fatal("Closing -> Closed should be allowed")
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 transition events, got %d", len(events))
	}
}

func TestMachine_RejectsIllegalTransition(t *testing.T) {
	m := NewMachine(nil)
	if m.TransitionTo(Open) {
		t.Fatal("Uninitialized -> Open should be rejected")
	}
	if m.Load() != Uninitialized {
		t.Fatalf("state should not have moved, got %v", m.Load())
	}
}

func TestMachine_ClosedIsTerminalAndIdempotent(t *testing.T) {
	m := NewMachine(nil)
	m.TransitionTo(Creating)
	m.TransitionTo(Open)
	if !m.TransitionTo(Closed) {
		t.Fatal("Open -> Closed should be allowed from any state")
	}
	if m.TransitionTo(Creating) {
		t.Fatal("Closed should never leave Closed")
	}
	if m.TransitionTo(Closed) {
		t.Fatal("re-closing an already-closed machine should be a no-op, not a new transition")
	}
}

func TestMachine_ErroredRecreateClearsOnOpen(t *testing.T) {
	m := NewMachine(nil)
	m.TransitionTo(Creating)
	m.TransitionTo(Open)
	m.TransitionTo(Errored)
	m.SetLastError(errBoom)
	m.IncRetry()

	if !m.TransitionTo(Creating) {
		t.Fatal("Errored -> Creating should be allowed on retry")
	}
	m.ClearLastError()
	if m.LastError() != nil {
		t.Fatalf("expected cleared error, got %v", m.LastError())
	}
	if m.RetryAttempts() != 1 {
		t.Fatalf("retry counter persists across recreate until explicitly reset, got %d", m.RetryAttempts())
	}
	m.ResetRetry()
	if m.RetryAttempts() != 0 {
		t.Fatalf("expected reset retry counter, got %d", m.RetryAttempts())
	}
}

var errBoom = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
