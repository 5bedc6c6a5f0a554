// Package reactor provides a single dedicated worker goroutine ("the reactor
// thread") that link mutation and credit flow are confined to, plus a
// cancellation-safe one-shot timer that re-enters the reactor when it fires.
//
// In production this stands in for the host AMQP library's own event loop
// executor (pack.ag/amqp and Azure/go-amqp both hand the caller such an
// executor); the bridge's job is purely sequencing, never protocol I/O.
package reactor

import (
	"errors"
	"sync"
	"time"
)

// ErrRejected is returned by Dispatch/DispatchAfter once the bridge has been
// shut down. Callers translate it into either a close-future failure or a
// link-error callback depending on which operation tried to submit work.
var ErrRejected = errors.New("reactor: rejected execution, bridge is shut down")

// DispatchAfterFunc matches (*Bridge).DispatchAfter's shape, so callers that
// only need "something that schedules reactor work after a delay" (the
// internal/link token manager, or a real MessagingFactory.DispatchAfter) can
// be passed around without depending on *Bridge itself.
type DispatchAfterFunc func(delay time.Duration, job func()) (cancel func())

// Bridge runs submitted jobs strictly in submission order on one goroutine.
type Bridge struct {
	jobs chan func()

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewBridge starts the reactor goroutine and returns a handle to it.
func NewBridge(queueDepth int) *Bridge {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	b := &Bridge{
		jobs: make(chan func(), queueDepth),
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bridge) run() {
	defer close(b.done)
	for job := range b.jobs {
		job()
	}
}

// Dispatch enqueues job to run on the reactor goroutine.
func (b *Bridge) Dispatch(job func()) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrRejected
	}
	b.mu.Unlock()

	select {
	case b.jobs <- job:
		return nil
	default:
	}
	// Queue momentarily full: block the caller rather than silently drop
	// reactor work, but still observe a concurrent shutdown.
	select {
	case b.jobs <- job:
		return nil
	case <-b.done:
		return ErrRejected
	}
}

// DispatchAfter schedules job to run on the reactor goroutine after delay.
// The returned CancelFunc prevents the job from being dispatched if it has
// not fired yet; it has no effect on a job already running or completed.
// The delay itself is timed on an auxiliary timer goroutine so that only
// the job body executes on the reactor.
func (b *Bridge) DispatchAfter(delay time.Duration, job func()) (cancel func()) {
	t := time.AfterFunc(delay, func() { _ = b.Dispatch(job) })
	return func() { t.Stop() }
}

// Shutdown stops accepting new work. Jobs already queued still run; in-flight
// work is not interrupted.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.jobs)
}

// Wait blocks until the reactor goroutine has drained and exited, for use in
// tests that need deterministic shutdown.
func (b *Bridge) Wait() {
	<-b.done
}
