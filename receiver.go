// Package ehreceiver implements a single-link AMQP 1.0 message receiver
// core: credit flow control, a prefetch buffer, a FIFO of pending receive
// requests, and a link lifecycle state machine with retry and token refresh,
// sitting between an external AMQP reactor (bytes in, endpoint-state changes
// out) and application callers making future-based receive calls.
//
// The core never parses AMQP frames, negotiates TLS, pools connections, or
// persists offsets; delivery is pull-driven by Receive, never pushed.
package ehreceiver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/flow"
	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/future"
	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/link"
	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/reactor"
	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/timeutil"
)

// minTimeoutSlop: a pending receive whose remaining time is at or below this,
// when the operation timer fires, is completed with a null batch rather than
// rescheduled.
const minTimeoutSlop = 20 * time.Millisecond

// creditFlushCap is the credit batching ceiling: flush at
// min(prefetchTarget, 100).
const creditFlushCap = 100

// Receiver is the public async API: Receive, SetPrefetch, Close. Every
// caller-facing operation completes exactly once. All link-adjacent mutable
// state (session, link, prefetch buffer, credit accumulator,
// lastReceivedMessage) is touched only inside jobs dispatched onto the
// reactor via r.factory.Dispatch/DispatchAfter. The pending queue is the
// exception: Receive enqueues into it from the caller's goroutine, and only
// the reactor pops from it.
type Receiver struct {
	cfg     ReceiverConfig
	factory MessagingFactory
	logger  *zap.Logger
	metrics *metricsSet
	clientID string

	state *link.Machine

	// reactor-thread-only
	session             Session
	amqpLink            Link
	buffer              *flow.PrefetchBuffer[*Message]
	pending             *flow.PendingQueue[*Message]
	credit              *flow.CreditController
	lastReceivedMessage *Message
	tokenMgr            *link.TokenManager

	opTimer    *reactor.Timer
	openTimer  *reactor.Timer
	closeTimer *reactor.Timer

	openFuture  *future.Future[struct{}]
	closeFuture *future.Future[struct{}]
	closeOnce   sync.Once

	// prefetchMu guards prefetch, read/written from any thread.
	prefetchMu sync.Mutex
	prefetch   int

	// timeoutMu guards receiveTimeout.
	timeoutMu      sync.Mutex
	receiveTimeout time.Duration

	// errMu guards the cross-thread error-context snapshot fields.
	errMu               sync.Mutex
	trackingID          string
	lastReceivedSnapshot *Message
}

// Create constructs a receiver and blocks until the link opens, the open
// timer expires, or ctx is cancelled. Callers that want a non-blocking form
// can run it in a goroutine themselves, the idiomatic equivalent of
// "returns a future" in this ecosystem.
func Create(ctx context.Context, factory MessagingFactory, cfg ReceiverConfig, logger *zap.Logger, reg prometheus.Registerer) (*Receiver, error) {
	if cfg.Prefetch <= 0 {
		return nil, ErrArgument
	}
	if cfg.OperationTimeout <= 0 {
		return nil, ErrArgument
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientID := factory.ClientID()
	if clientID == "" {
		clientID = uuid.NewString()
	}

	r := &Receiver{
		cfg:            cfg,
		factory:        factory,
		logger:         logger,
		metrics:        newMetricsSet(reg, cfg.EntityPath),
		clientID:       clientID,
		buffer:         flow.NewPrefetchBuffer[*Message](),
		pending:        flow.NewPendingQueue[*Message](),
		credit:         flow.NewCreditController(cfg.Prefetch),
		prefetch:       cfg.Prefetch,
		receiveTimeout: cfg.OperationTimeout,
		openFuture:     future.New[struct{}](),
		closeFuture:    future.New[struct{}](),
		trackingID:     "",
	}
	r.state = link.NewMachine(func(from, to link.State) {
		r.metrics.linkStateTransitions.WithLabelValues(to.String()).Inc()
		r.cfg.Hooks.fireStateChange(from.String(), to.String())
		r.logger.Info("link state transition",
			zap.String("from", from.String()), zap.String("to", to.String()),
			zap.String("entity_path", cfg.EntityPath))
	})
	r.opTimer = reactor.NewTimer(factory.DispatchAfter)
	r.openTimer = reactor.NewTimer(factory.DispatchAfter)
	r.closeTimer = reactor.NewTimer(factory.DispatchAfter)

	r.tokenMgr = link.NewTokenManager(
		cfg.TokenAudience, r.tokenValidity(), r.tokenRefreshInterval(),
		factory.TokenProvider(), factory.CBSChannel(), factory.DispatchAfter, logger,
		func() { r.metrics.tokenRefreshFailures.Inc() },
	)

	r.openTimer.Reset(cfg.OperationTimeout, func() {
		r.onOpenTimeout()
	})

	if err := factory.Dispatch(func() { r.openProcedure() }); err != nil {
		return nil, err
	}

	_, err := r.openFuture.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Receiver) tokenValidity() time.Duration {
	if r.cfg.TokenValidity > 0 {
		return r.cfg.TokenValidity
	}
	return 20 * time.Minute
}

func (r *Receiver) tokenRefreshInterval() time.Duration {
	// Refresh comfortably inside the token's validity window.
	v := r.tokenValidity()
	return v - v/4
}

// ---- Receiver facade ------------------------------------------------------

// Receive asks for up to maxBatch messages. It returns (nil, nil) on
// timeout — a success-path completion, not an error — a non-empty batch on
// arrival, or an error if the link has failed terminally or the request is
// malformed.
func (r *Receiver) Receive(ctx context.Context, maxBatch int) ([]*Message, error) {
	prefetch := r.GetPrefetch()
	if maxBatch < 1 || maxBatch > prefetch {
		return nil, ErrArgument
	}
	if r.state.Load() == link.Closed {
		return nil, ErrClosed
	}

	timeout := r.GetReceiveTimeout()
	start := time.Now()
	p := &flow.PendingReceive[*Message]{
		Future:   future.New[[]*Message](),
		Deadline: timeutil.New(timeout),
		MaxBatch: maxBatch,
	}
	r.pending.PushBack(p)

	if err := r.factory.Dispatch(func() { r.createAndReceive() }); err != nil {
		return nil, err
	}

	batch, err := p.Future.Wait(ctx)
	r.metrics.receiveLatency.Observe(time.Since(start).Seconds())
	return batch, err
}

// SetPrefetch updates the prefetch target. It takes effect no later than the
// next credit flush after the reactor job it dispatches runs — never
// synchronously from the caller's point of view.
func (r *Receiver) SetPrefetch(n int) {
	r.prefetchMu.Lock()
	r.prefetch = n
	r.prefetchMu.Unlock()

	_ = r.factory.Dispatch(func() { r.applyPrefetchDelta(n) })
}

func (r *Receiver) applyPrefetchDelta(newTarget int) {
	amount, flush := r.credit.OnPrefetchTargetChanged(newTarget)
	r.metrics.outstandingCredit.Add(float64(amount))
	if flush && r.amqpLink != nil && r.state.Load() == link.Open {
		if err := r.amqpLink.Flow(amount); err != nil {
			r.logger.Warn("flow after prefetch change failed", zap.Error(err))
		}
	}
}

// GetPrefetch returns the current prefetch target.
func (r *Receiver) GetPrefetch() int {
	r.prefetchMu.Lock()
	defer r.prefetchMu.Unlock()
	return r.prefetch
}

// SetReceiveTimeout updates the default per-operation timeout used by
// Receive. Non-positive durations are rejected, since a degenerate timeout
// can never succeed.
func (r *Receiver) SetReceiveTimeout(d time.Duration) error {
	if d <= 0 {
		return ErrArgument
	}
	r.timeoutMu.Lock()
	r.receiveTimeout = d
	r.timeoutMu.Unlock()
	return nil
}

// GetReceiveTimeout returns the current per-operation timeout.
func (r *Receiver) GetReceiveTimeout() time.Duration {
	r.timeoutMu.Lock()
	defer r.timeoutMu.Unlock()
	return r.receiveTimeout
}

// Close is idempotent: the first call starts a graceful local close; later
// calls observe the same close future.
func (r *Receiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closeTimer.Reset(r.factory.OperationTimeout(), func() { r.onCloseTimeout() })
		r.tokenMgr.Cancel()
		_ = r.factory.Dispatch(func() { r.closeProcedure() })
	})
	_, err := r.closeFuture.Wait(ctx)
	return err
}

// LastReceivedMessage returns the most recently polled message, for building
// a resume filter on a manually-recreated link.
func (r *Receiver) LastReceivedMessage() *Message {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastReceivedSnapshot
}

// ErrorContext returns a diagnostic snapshot, assembled under the dedicated
// error-condition mutex.
func (r *Receiver) ErrorContext() ErrorContext {
	r.errMu.Lock()
	tracking := r.trackingID
	r.errMu.Unlock()

	return ErrorContext{
		Host:               r.cfg.Host,
		EntityPath:         r.cfg.EntityPath,
		TrackingID:         tracking,
		Prefetch:           r.GetPrefetch(),
		Credit:             r.credit.NextCreditToFlow(),
		PrefetchBufferSize: r.buffer.Len(),
		RetryAttempts:      r.state.RetryAttempts(),
		LinkState:          r.state.Load().String(),
		LastError:          r.state.LastError(),
	}
}
