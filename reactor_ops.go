package ehreceiver

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/flow"
	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/link"
)

// This file holds everything that must run on the reactor goroutine: the
// link open/close/recreate procedures, the pending-request matcher, and the
// LinkHandler callbacks the external AMQP engine drives us through. Nothing
// here takes r.prefetchMu, r.timeoutMu, or r.errMu for longer than a
// snapshot write/read — those mutexes exist purely for cross-thread
// visibility, never to serialize reactor-thread logic with itself.

// ---- LinkHandler (downstream interface, called by the AMQP engine) -------

func (r *Receiver) OnOpenComplete(err error) { r.handleOpenComplete(err) }
func (r *Receiver) OnReceiveComplete(d Delivery) { r.handleReceiveComplete(d) }
func (r *Receiver) OnError(err error) { r.handleError(err) }
func (r *Receiver) OnClose(condition string) { r.handleClose(condition) }

// ---- Open / recreate -------------------------------------------------------

func (r *Receiver) openProcedure() {
	cur := r.state.Load()
	if cur != link.Uninitialized && cur != link.Errored {
		return
	}
	r.state.TransitionTo(link.Creating)

	r.tokenMgr.SendInitial(func(err error) {
		_ = r.factory.Dispatch(func() { r.afterTokenSent(err) })
	})
}

func (r *Receiver) afterTokenSent(err error) {
	if err != nil {
		r.handleOpenComplete(fmt.Errorf("cbs token send: %w", err))
		return
	}
	r.factory.GetSession(r.cfg.EntityPath, r.onSessionOpen, r.onSessionOpenFailed)
}

func (r *Receiver) onSessionOpenFailed(err error) {
	r.handleOpenComplete(fmt.Errorf("session open: %w", err))
}

func (r *Receiver) onSessionOpen(s Session) {
	r.session = s

	l, err := s.NewReceiver(r.cfg.LinkName)
	if err != nil {
		r.handleOpenComplete(fmt.Errorf("link create: %w", err))
		return
	}

	var filter map[string]interface{}
	var props map[string]interface{}
	var caps []string
	if r.cfg.Settings != nil {
		filter = r.cfg.Settings.Filter(r.LastReceivedMessage())
		props = r.cfg.Settings.Properties()
		caps = r.cfg.Settings.DesiredCapabilities()
	}

	l.SetSource(r.cfg.EntityPath, filter)
	if props != nil {
		l.SetProperties(props)
	}
	if caps != nil {
		l.SetDesiredCapabilities(caps)
	}
	l.SetSettleModes(SenderSettleUnsettled, ReceiverSettleSecond)
	l.SetHandler(r)

	r.amqpLink = l
	r.factory.RegisterForConnectionError(l)

	if err := l.Open(r.cfg.TokenAudience); err != nil {
		r.handleOpenComplete(fmt.Errorf("link open: %w", err))
		return
	}
	// Completion arrives asynchronously via OnOpenComplete once the peer acks
	// (or fails) the attach.
}

func (r *Receiver) handleOpenComplete(err error) {
	if err == nil {
		if r.state.Load() == link.Closing {
			if r.amqpLink != nil {
				_ = r.amqpLink.Close()
			}
			return
		}
		r.openTimer.Cancel()
		r.state.TransitionTo(link.Open)
		r.state.ClearLastError()
		r.state.ResetRetry()
		r.captureTrackingSnapshot()

		if !r.openFuture.Done() {
			r.openFuture.Complete(struct{}{}, nil)
		}

		initial := r.credit.OnOpenComplete(r.buffer.Len())
		r.metrics.outstandingCredit.Set(float64(initial))
		if initial > 0 && r.amqpLink != nil {
			if ferr := r.amqpLink.Flow(initial); ferr != nil {
				r.logger.Warn("initial flow failed", zap.Error(ferr))
			}
		}
		r.matchPending()
		return
	}

	r.state.SetLastError(err)

	if !r.openFuture.Done() {
		delay, ok := r.factory.RetryPolicy().NextRetry(r.clientID, err, r.headPendingRemaining())
		if ok {
			r.cfg.Hooks.fireOpenRetry()
			r.scheduleRecreate(delay)
			return
		}
		r.state.TransitionTo(link.Closed)
		r.openFuture.Complete(struct{}{}, err)
		return
	}

	// The open future already resolved (a recreate attempt failed): treat
	// this exactly like a runtime link error.
	r.handleError(err)
}

func (r *Receiver) scheduleRecreate(delay time.Duration) {
	_ = r.factory.DispatchAfter(delay, func() {
		st := r.state.Load()
		if st == link.Closing || st == link.Closed {
			return
		}
		localClosed := r.amqpLink == nil || r.amqpLink.LocalState() == EndpointClosed
		remoteClosed := r.amqpLink == nil || r.amqpLink.RemoteState() == EndpointClosed
		if !localClosed && !remoteClosed {
			return
		}
		r.openProcedure()
	})
}

// ---- Error path -------------------------------------------------------------

func (r *Receiver) handleError(err error) {
	dropped := r.buffer.Clear()
	if dropped > 0 {
		r.logger.Debug("discarding buffered messages on link error",
			zap.Int("count", dropped), zap.String("entity_path", r.cfg.EntityPath))
	}
	if r.amqpLink != nil {
		r.factory.DeregisterForConnectionError(r.amqpLink)
	}
	r.state.SetLastError(err)
	r.captureTrackingSnapshot()

	st := r.state.Load()
	if st == link.Closing || st == link.Closed {
		r.closeTimer.Cancel()
		r.drainPending(err)
		r.completeClose(nil)
		return
	}

	r.state.TransitionTo(link.Errored)

	delay, ok := r.factory.RetryPolicy().NextRetry(r.clientID, err, r.headPendingRemaining())
	if ok {
		r.state.IncRetry()
		r.scheduleRecreate(delay)
		return
	}

	if IsTransient(err) {
		r.drainPending(nil)
		return
	}
	r.state.TransitionTo(link.Closed)
	r.drainPending(err)
}

// ---- Close ------------------------------------------------------------------

func (r *Receiver) closeProcedure() {
	st := r.state.Load()
	switch st {
	case link.Closed:
		r.completeClose(nil)
	case link.Open:
		r.state.TransitionTo(link.Closing)
		if r.amqpLink != nil {
			if err := r.amqpLink.Close(); err != nil {
				r.logger.Warn("local detach failed", zap.Error(err))
			}
		} else {
			r.completeClose(nil)
		}
	case link.Creating:
		// handleOpenComplete's err==nil branch closes the link immediately
		// once creation finishes; err!=nil branches already fail terminally.
		r.state.TransitionTo(link.Closing)
	default:
		r.state.TransitionTo(link.Closing)
		if r.amqpLink == nil || r.amqpLink.RemoteState() == EndpointClosed {
			r.completeClose(nil)
		}
	}
}

func (r *Receiver) handleClose(condition string) {
	if condition != "" {
		r.state.SetLastError(fmt.Errorf("remote detach: %s", condition))
	}
	r.drainPending(nil)
	r.completeClose(nil)
}

func (r *Receiver) completeClose(err error) {
	r.closeTimer.Cancel()
	r.opTimer.Cancel()
	r.state.TransitionTo(link.Closed)
	if !r.closeFuture.Done() {
		r.closeFuture.Complete(struct{}{}, err)
	}
}

func (r *Receiver) onOpenTimeout() {
	if r.openFuture.Done() {
		return
	}
	err := error(ErrOpenTimeout)
	if cause := r.state.LastError(); cause != nil {
		err = fmt.Errorf("%w: %v", ErrOpenTimeout, cause)
	}
	r.state.TransitionTo(link.Closed)
	r.openFuture.Complete(struct{}{}, err)
}

func (r *Receiver) onCloseTimeout() {
	if r.closeFuture.Done() {
		return
	}
	r.completeClose(ErrCloseTimeout)
}

// ---- Receive matching -------------------------------------------------------

func (r *Receiver) createAndReceive() {
	if r.state.Load() == link.Closed {
		r.drainPending(ErrClosed)
		return
	}
	r.matchPending()
}

func (r *Receiver) matchPending() {
	for r.buffer.Len() > 0 {
		head := r.pending.PopFront()
		if head == nil {
			break
		}
		if head.Future.Done() {
			continue
		}
		batch := r.buffer.PopUpTo(head.MaxBatch)
		r.setLastReceivedMessage(batch[len(batch)-1])
		head.Future.Complete(batch, nil)

		for range batch {
			amount, flush := r.credit.OnMessagePolled()
			if flush {
				r.metrics.outstandingCredit.Add(float64(amount))
				if r.amqpLink != nil {
					if err := r.amqpLink.Flow(amount); err != nil {
						r.logger.Warn("flow after poll failed", zap.Error(err))
					}
				}
			}
		}
	}
	r.metrics.prefetchBufferSize.Set(float64(r.buffer.Len()))
	r.metrics.pendingQueueDepth.Set(float64(r.pending.Len()))
	r.rearmOperationTimer()
}

func (r *Receiver) rearmOperationTimer() {
	head := r.pending.PeekFront()
	if head == nil {
		r.opTimer.Cancel()
		return
	}
	r.opTimer.Reset(head.Deadline.Remaining(), r.onOperationTimerFire)
}

func (r *Receiver) onOperationTimerFire() {
	remaining, more := r.pending.ExpireHead(minTimeoutSlop, func(p *flow.PendingReceive[*Message]) {
		if !p.Future.Done() {
			p.Future.Complete(nil, nil)
		}
	})
	r.metrics.pendingQueueDepth.Set(float64(r.pending.Len()))
	if more {
		r.opTimer.Reset(remaining, r.onOperationTimerFire)
	}
}

func (r *Receiver) handleReceiveComplete(d Delivery) {
	r.metrics.outstandingCredit.Dec()
	msg, err := d.Decode()
	if err != nil {
		r.logger.Warn("failed to decode delivery", zap.Error(err))
		return
	}
	if serr := d.Settle(); serr != nil {
		r.logger.Warn("failed to settle delivery", zap.Error(serr))
	}
	r.buffer.Push(msg)
	r.matchPending()
}

func (r *Receiver) drainPending(err error) {
	for _, p := range r.pending.DrainAll() {
		if p.Future.Done() {
			continue
		}
		p.Future.Complete(nil, err)
	}
	r.opTimer.Cancel()
}

// ---- Cross-thread snapshots --------------------------------------------------

func (r *Receiver) headPendingRemaining() time.Duration {
	head := r.pending.PeekFront()
	if head == nil {
		return 0
	}
	return head.Deadline.Remaining()
}

func (r *Receiver) setLastReceivedMessage(m *Message) {
	r.lastReceivedMessage = m
	r.errMu.Lock()
	r.lastReceivedSnapshot = m
	r.errMu.Unlock()
}

func (r *Receiver) captureTrackingSnapshot() {
	if r.amqpLink == nil {
		return
	}
	props := r.amqpLink.RemoteProperties()
	if props == nil {
		return
	}
	if tid, ok := props["com.microsoft:tracking-id"].(string); ok {
		r.errMu.Lock()
		r.trackingID = tid
		r.errMu.Unlock()
	}
}
