package reactor

import (
	"sync"
	"time"
)

// Timer schedules at most one outstanding callback at a time. Scheduling
// again before the previous fire cancels it, which is what the operation
// timer needs when the matcher reschedules around the new head-of-queue
// deadline. It is built on top of a DispatchAfterFunc rather than a *Bridge
// directly so it also works against a MessagingFactory.DispatchAfter in
// production, where the reactor is owned by the AMQP library, not by us.
type Timer struct {
	dispatchAfter DispatchAfterFunc

	mu     sync.Mutex
	cancel func()
	gen    uint64
}

// NewTimer binds a Timer to the function that schedules its callbacks.
func NewTimer(dispatchAfter DispatchAfterFunc) *Timer {
	return &Timer{dispatchAfter: dispatchAfter}
}

// Reset cancels any pending fire and schedules a new one after d. fn runs on
// whatever goroutine dispatchAfter runs its jobs on (the reactor).
func (t *Timer) Reset(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.gen++
	gen := t.gen
	t.cancel = t.dispatchAfter(d, func() {
		t.mu.Lock()
		stale := gen != t.gen
		t.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
}

// Cancel stops a pending fire, if any. Idempotent.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
}
