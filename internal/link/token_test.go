package link

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeTokenProvider struct {
	calls atomic.Int32
	err   error
}

func (f *fakeTokenProvider) GetToken(audience string, validity time.Duration) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "token-for-" + audience, nil
}

type fakeCBS struct {
	sends atomic.Int32
	err   error
}

func (f *fakeCBS) SendToken(audience, token string, callback func(error)) {
	f.sends.Add(1)
	callback(f.err)
}

// immediateDispatch runs each scheduled callback on its own goroutine once
// d has elapsed, unless cancelled first, simulating the reactor without
// pulling in the reactor package (keeping this package's tests
// dependency-free of its sibling).
func immediateDispatch(d time.Duration, fn func()) func() {
	cancelled := make(chan struct{})
	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			fn()
		case <-cancelled:
		}
	}()
	return func() { close(cancelled) }
}

func TestTokenManager_SendInitial(t *testing.T) {
	tp := &fakeTokenProvider{}
	cbs := &fakeCBS{}
	tm := NewTokenManager("aud", time.Minute, time.Hour, tp, cbs, immediateDispatch, zap.NewNop(), nil)
	defer tm.Cancel()

	done := make(chan error, 1)
	tm.SendInitial(func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendInitial callback never fired")
	}
	if cbs.sends.Load() != 1 {
		t.Fatalf("expected 1 send, got %d", cbs.sends.Load())
	}
}

func TestTokenManager_PeriodicRefresh(t *testing.T) {
	tp := &fakeTokenProvider{}
	cbs := &fakeCBS{}
	tm := NewTokenManager("aud", time.Minute, 15*time.Millisecond, tp, cbs, immediateDispatch, zap.NewNop(), nil)
	defer tm.Cancel()

	time.Sleep(80 * time.Millisecond)
	if cbs.sends.Load() < 2 {
		t.Fatalf("expected at least 2 periodic sends, got %d", cbs.sends.Load())
	}
}

func TestTokenManager_CancelStopsRefresh(t *testing.T) {
	tp := &fakeTokenProvider{}
	cbs := &fakeCBS{}
	tm := NewTokenManager("aud", time.Minute, 10*time.Millisecond, tp, cbs, immediateDispatch, zap.NewNop(), nil)
	tm.Cancel()
	tm.Cancel() // idempotent

	before := cbs.sends.Load()
	time.Sleep(50 * time.Millisecond)
	if cbs.sends.Load() != before {
		t.Fatalf("expected no further sends after Cancel, before=%d after=%d", before, cbs.sends.Load())
	}
}

func TestTokenManager_SendFailureDoesNotStopLoop(t *testing.T) {
	tp := &fakeTokenProvider{}
	cbs := &fakeCBS{err: errTest("unauthorized")}
	var failures atomic.Int32
	tm := NewTokenManager("aud", time.Minute, 10*time.Millisecond, tp, cbs, immediateDispatch, zap.NewNop(),
		func() { failures.Add(1) })
	defer tm.Cancel()

	time.Sleep(60 * time.Millisecond)
	if cbs.sends.Load() < 2 {
		t.Fatalf("expected the loop to keep retrying despite send failures, got %d sends", cbs.sends.Load())
	}
	if failures.Load() < 2 {
		t.Fatalf("expected onSendFailure to fire for each failed send, got %d", failures.Load())
	}
}
