package main

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	eh "github.com/Harsh-BH/Sentinel/ehreceiver"
	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/reactor"
)

// demoLink simulates an attached AMQP receiver-link: it generates synthetic
// deliveries on a ticker and occasionally fails, since this probe has no
// real broker to attach to and the wire-level AMQP protocol is out of scope
// for the core it exercises.
type demoLink struct {
	bridge *reactor.Bridge
	logger *zap.Logger

	failureRatePct int
	msgInterval    time.Duration

	mu      sync.Mutex
	handler eh.LinkHandler
	credit  int
	seq     atomic.Int64

	stop chan struct{}
}

func newDemoLink(bridge *reactor.Bridge, logger *zap.Logger, interval time.Duration, failureRatePct int) *demoLink {
	return &demoLink{bridge: bridge, logger: logger, msgInterval: interval, failureRatePct: failureRatePct, stop: make(chan struct{})}
}

func (l *demoLink) SetSource(string, map[string]interface{})                 {}
func (l *demoLink) SetProperties(map[string]interface{})                     {}
func (l *demoLink) SetDesiredCapabilities([]string)                          {}
func (l *demoLink) SetSettleModes(eh.SenderSettleMode, eh.ReceiverSettleMode) {}

func (l *demoLink) SetHandler(h eh.LinkHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *demoLink) Open(audience string) error {
	_ = l.bridge.DispatchAfter(5*time.Millisecond, func() {
		if h := l.currentHandler(); h != nil {
			h.OnOpenComplete(nil)
		}
	})
	go l.generate()
	return nil
}

func (l *demoLink) Close() error {
	close(l.stop)
	_ = l.bridge.DispatchAfter(5*time.Millisecond, func() {
		if h := l.currentHandler(); h != nil {
			h.OnClose("")
		}
	})
	return nil
}

func (l *demoLink) currentHandler() eh.LinkHandler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler
}

func (l *demoLink) Flow(credits int) error {
	l.mu.Lock()
	l.credit += credits
	l.mu.Unlock()
	l.logger.Debug("probe: flow", zap.Int("credits", credits))
	return nil
}

func (l *demoLink) Credit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit
}

func (l *demoLink) LocalState() eh.EndpointState             { return eh.EndpointActive }
func (l *demoLink) RemoteState() eh.EndpointState            { return eh.EndpointActive }
func (l *demoLink) RemoteProperties() map[string]interface{} { return nil }

func (l *demoLink) generate() {
	t := time.NewTicker(l.msgInterval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.mu.Lock()
			credit := l.credit
			h := l.handler
			l.mu.Unlock()
			if h == nil || credit <= 0 {
				continue
			}
			if l.failureRatePct > 0 && rand.Intn(100) < l.failureRatePct {
				_ = l.bridge.Dispatch(func() {
					h.OnError(&eh.LinkError{Cause: fmt.Errorf("probe: simulated transient fault"), Transient: true})
				})
				continue
			}
			n := l.seq.Add(1)
			msg := &eh.Message{
				Data:           []byte(fmt.Sprintf("demo message %d", n)),
				MessageID:      fmt.Sprintf("%d", n),
				SequenceNumber: n,
				EnqueuedTime:   time.Now(),
			}
			_ = l.bridge.Dispatch(func() {
				l.mu.Lock()
				l.credit--
				l.mu.Unlock()
				h.OnReceiveComplete(&demoDelivery{msg: msg})
			})
		}
	}
}

type demoDelivery struct{ msg *eh.Message }

func (d *demoDelivery) Pending() bool                { return false }
func (d *demoDelivery) Decode() (*eh.Message, error) { return d.msg, nil }
func (d *demoDelivery) Settle() error                { return nil }

type demoSession struct{ link *demoLink }

func (s *demoSession) NewReceiver(string) (eh.Link, error) { return s.link, nil }
func (s *demoSession) Close() error                        { return nil }

type demoTokenProvider struct{}

func (demoTokenProvider) GetToken(audience string, validity time.Duration) (string, error) {
	return "demo-token", nil
}

type demoCBS struct{}

func (demoCBS) SendToken(audience, token string, callback func(error)) { callback(nil) }

// demoRetryPolicy retries forever with capped exponential backoff.
type demoRetryPolicy struct {
	base time.Duration
	max  time.Duration

	mu       sync.Mutex
	attempts int
}

func (p *demoRetryPolicy) NextRetry(clientID string, cause error, headPendingRemaining time.Duration) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delay := p.base << p.attempts
	if delay > p.max || delay <= 0 {
		delay = p.max
	}
	p.attempts++
	return delay, true
}

// demoFactory is a MessagingFactory wired entirely to in-process simulation:
// internal/reactor.Bridge stands in for the AMQP library's executor, and
// demoLink stands in for the wire-level link.
type demoFactory struct {
	bridge    *reactor.Bridge
	link      *demoLink
	clientID  string
	opTimeout time.Duration
	retry     *demoRetryPolicy
}

func newDemoFactory(logger *zap.Logger, cfg *Config, clientID string) *demoFactory {
	bridge := reactor.NewBridge(256)
	link := newDemoLink(bridge, logger, cfg.SimulatedMessageInterval(), cfg.SimulatedFailureRatePct)
	return &demoFactory{
		bridge:    bridge,
		link:      link,
		clientID:  clientID,
		opTimeout: cfg.OperationTimeout(),
		retry:     &demoRetryPolicy{base: 200 * time.Millisecond, max: 30 * time.Second},
	}
}

func (f *demoFactory) HostName() string                { return "probe.local" }
func (f *demoFactory) ClientID() string                 { return f.clientID }
func (f *demoFactory) OperationTimeout() time.Duration  { return f.opTimeout }

func (f *demoFactory) Dispatch(job func()) error { return f.bridge.Dispatch(job) }

func (f *demoFactory) DispatchAfter(delay time.Duration, job func()) func() {
	return f.bridge.DispatchAfter(delay, job)
}

func (f *demoFactory) GetSession(path string, onOpen func(eh.Session), onOpenFailed func(error)) {
	onOpen(&demoSession{link: f.link})
}

func (f *demoFactory) RegisterForConnectionError(eh.Link)   {}
func (f *demoFactory) DeregisterForConnectionError(eh.Link) {}

func (f *demoFactory) RetryPolicy() eh.RetryPolicy     { return f.retry }
func (f *demoFactory) CBSChannel() eh.CBSChannel       { return demoCBS{} }
func (f *demoFactory) TokenProvider() eh.TokenProvider { return demoTokenProvider{} }

func (f *demoFactory) Shutdown() { f.bridge.Shutdown() }
