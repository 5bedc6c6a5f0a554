package flow

import (
	"sync"
	"time"

	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/future"
	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/timeutil"
)

// PendingReceive is a single outstanding receive call. Its future-to-complete
// and max batch size are immutable after construction; its deadline is fixed
// at enqueue time.
type PendingReceive[T any] struct {
	Future   *future.Future[[]T]
	Deadline timeutil.Tracker
	MaxBatch int
}

// PendingQueue is a FIFO of outstanding receive requests. Callers enqueue
// from arbitrary goroutines; the reactor goroutine is the sole consumer that
// pops and matches. A mutex-guarded slice rather than a CAS-based ring (see
// DESIGN.md).
type PendingQueue[T any] struct {
	mu    sync.Mutex
	items []*PendingReceive[T]
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue[T any]() *PendingQueue[T] {
	return &PendingQueue[T]{}
}

// PushBack enqueues a new pending receive. Safe to call from any goroutine.
func (q *PendingQueue[T]) PushBack(p *PendingReceive[T]) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

// PopFront removes and returns the head of the queue, or nil if empty.
// Reactor-thread only by convention (single consumer), but safe from any
// goroutine since it still takes the mutex.
func (q *PendingQueue[T]) PopFront() *PendingReceive[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p
}

// PeekFront returns the head of the queue without removing it, or nil if
// empty.
func (q *PendingQueue[T]) PeekFront() *PendingReceive[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Len reports the current queue depth.
func (q *PendingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainAll removes every pending request and returns them in FIFO order, for
// completing them all with an error or a transient null-batch result.
func (q *PendingQueue[T]) DrainAll() []*PendingReceive[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// ExpireHead walks the queue head-first, popping and invoking onExpire for
// every request whose remaining time is at or below slop. It stops at the
// first request with remaining time above slop and returns that request's
// remaining time so the caller can reschedule its timer; it returns
// (0, false) if the queue drained completely.
func (q *PendingQueue[T]) ExpireHead(slop time.Duration, onExpire func(*PendingReceive[T])) (time.Duration, bool) {
	for {
		head := q.PeekFront()
		if head == nil {
			return 0, false
		}
		if !head.Deadline.ExpiredWithin(slop) {
			return head.Deadline.Remaining(), true
		}
		q.PopFront()
		onExpire(head)
	}
}
