package reactor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimer_ResetReschedules(t *testing.T) {
	b := NewBridge(4)
	defer b.Shutdown()
	tm := NewTimer(b.DispatchAfter)

	var fires atomic.Int32
	tm.Reset(10*time.Millisecond, func() { fires.Add(1) })
	tm.Reset(200*time.Millisecond, func() { fires.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if fires.Load() != 0 {
		t.Fatalf("first schedule should have been superseded, fires=%d", fires.Load())
	}

	time.Sleep(200 * time.Millisecond)
	if fires.Load() != 1 {
		t.Fatalf("expected exactly one fire, got %d", fires.Load())
	}
}

func TestTimer_CancelPreventsFire(t *testing.T) {
	b := NewBridge(4)
	defer b.Shutdown()
	tm := NewTimer(b.DispatchAfter)

	var fired atomic.Bool
	tm.Reset(10*time.Millisecond, func() { fired.Store(true) })
	tm.Cancel()

	time.Sleep(40 * time.Millisecond)
	if fired.Load() {
		t.Fatalf("cancelled timer should not fire")
	}
}
