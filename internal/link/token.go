package link

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TokenProvider mints a CBS token for an audience. Structurally identical to
// the root package's exported TokenProvider interface; kept local so this
// package never imports the root package (it would create an import cycle,
// since the root package imports this one).
type TokenProvider interface {
	GetToken(audience string, validity time.Duration) (string, error)
}

// CBSChannel sends a token over the claims-based-security link.
type CBSChannel interface {
	SendToken(audience, token string, callback func(error))
}

// TokenManager refreshes the CBS token on a fixed interval, entirely on the
// reactor goroutine supplied via dispatch. A send failure is logged but
// never mutates link state directly — the link state machine finds out
// about auth failure indirectly, the next time an AMQP operation using the
// stale token fails.
type TokenManager struct {
	audience string
	validity time.Duration
	interval time.Duration
	provider TokenProvider
	cbs      CBSChannel
	logger   *zap.Logger

	dispatchAfter func(time.Duration, func()) func()
	onSendFailure func()

	mu      sync.Mutex
	cancel  func()
	gen     uint64
	stopped bool
}

// NewTokenManager constructs a manager and immediately schedules its first
// refresh tick. dispatchAfter must run fn on the reactor goroutine after d
// and return a cancel function, matching (*reactor.Bridge).DispatchAfter's
// shape. onSendFailure, if non-nil, fires once per failed periodic refresh
// (a failed GetToken or a failed SendToken callback) so callers can track it
// as a metric; SendInitial's result is reported directly to its own callback
// instead.
func NewTokenManager(
	audience string,
	validity, interval time.Duration,
	provider TokenProvider,
	cbs CBSChannel,
	dispatchAfter func(time.Duration, func()) func(),
	logger *zap.Logger,
	onSendFailure func(),
) *TokenManager {
	tm := &TokenManager{
		audience:      audience,
		validity:      validity,
		interval:      interval,
		provider:      provider,
		cbs:           cbs,
		dispatchAfter: dispatchAfter,
		logger:        logger,
		onSendFailure: onSendFailure,
	}
	tm.scheduleNext()
	return tm
}

func (tm *TokenManager) scheduleNext() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return
	}
	tm.gen++
	gen := tm.gen
	tm.cancel = tm.dispatchAfter(tm.interval, func() { tm.tick(gen) })
}

func (tm *TokenManager) tick(gen uint64) {
	tm.mu.Lock()
	if tm.stopped || gen != tm.gen {
		tm.mu.Unlock()
		return
	}
	tm.mu.Unlock()

	// SendToken immediately, once, then arm the next tick regardless of
	// outcome — a send failure does not stop the refresh loop.
	tm.sendOnce()

	tm.mu.Lock()
	stopped := tm.stopped
	tm.mu.Unlock()
	if !stopped {
		tm.scheduleNext()
	}
}

func (tm *TokenManager) sendOnce() {
	token, err := tm.provider.GetToken(tm.audience, tm.validity)
	if err != nil {
		tm.logger.Warn("token refresh: failed to obtain token",
			zap.String("audience", tm.audience), zap.Error(err))
		tm.reportFailure()
		return
	}
	tm.cbs.SendToken(tm.audience, token, func(sendErr error) {
		if sendErr != nil {
			tm.logger.Warn("token refresh: send_token failed",
				zap.String("audience", tm.audience), zap.Error(sendErr))
			tm.reportFailure()
			return
		}
		tm.logger.Debug("token refresh: sent", zap.String("audience", tm.audience))
	})
}

func (tm *TokenManager) reportFailure() {
	if tm.onSendFailure != nil {
		tm.onSendFailure()
	}
}

// SendInitial performs an immediate, synchronous-from-the-caller's-view token
// send used during the open procedure: session acquisition is chained after
// this completes. callback is invoked exactly once.
func (tm *TokenManager) SendInitial(callback func(error)) {
	token, err := tm.provider.GetToken(tm.audience, tm.validity)
	if err != nil {
		callback(err)
		return
	}
	tm.cbs.SendToken(tm.audience, token, callback)
}

// Cancel stops future refresh ticks. Idempotent and synchronous: once it
// returns, no further tick will be scheduled, though one already dispatched
// to the reactor may still be in flight (it will no-op via the generation
// check).
func (tm *TokenManager) Cancel() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return
	}
	tm.stopped = true
	tm.gen++
	if tm.cancel != nil {
		tm.cancel()
	}
}
