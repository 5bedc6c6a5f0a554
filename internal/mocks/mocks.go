// Package mocks provides hand-written test collaborators for the ehreceiver
// facade: a Session/Link pair that simulates an AMQP attach, and the small
// TokenProvider/CBSChannel/RetryPolicy/MessagingFactory fakes a Receiver
// needs to run end to end without a real broker. This pack reaches for
// small mock structs over a mocking framework (see
// worker/internal/repository/mock), so this package follows suit.
package mocks

import (
	"sync"
	"sync/atomic"
	"time"

	eh "github.com/Harsh-BH/Sentinel/ehreceiver"
)

// Delivery is a pre-decoded or pre-failed arrival handed to a Link's handler.
type Delivery struct {
	Msg       *eh.Message
	DecodeErr error
	SettleErr error
	settled   atomic.Bool
}

func (d *Delivery) Pending() bool { return false }

func (d *Delivery) Decode() (*eh.Message, error) {
	if d.DecodeErr != nil {
		return nil, d.DecodeErr
	}
	return d.Msg, nil
}

func (d *Delivery) Settle() error {
	d.settled.Store(true)
	return d.SettleErr
}

func (d *Delivery) Settled() bool { return d.settled.Load() }

// Link fakes a single attached AMQP receiver-link.
type Link struct {
	mu sync.Mutex

	handler eh.LinkHandler

	OpenErr  error
	CloseErr error

	// ManualComplete disables the automatic async OnOpenComplete/OnClose echo
	// Open/Close otherwise schedule, for tests that need to fire those
	// themselves at a precise moment.
	ManualComplete bool

	opened bool
	closed bool

	flowCalls []int
	credit    int

	Local, Remote eh.EndpointState
	RemoteProps   map[string]interface{}
}

func (l *Link) SetSource(string, map[string]interface{})                 {}
func (l *Link) SetProperties(map[string]interface{})                     {}
func (l *Link) SetDesiredCapabilities([]string)                          {}
func (l *Link) SetSettleModes(eh.SenderSettleMode, eh.ReceiverSettleMode) {}

func (l *Link) SetHandler(h eh.LinkHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *Link) Handler() eh.LinkHandler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler
}

func (l *Link) Open(string) error {
	l.mu.Lock()
	l.opened = true
	manual := l.ManualComplete
	openErr := l.OpenErr
	l.mu.Unlock()
	if !manual {
		go func() {
			time.Sleep(time.Millisecond)
			l.FireOpenComplete(openErr)
		}()
	}
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	l.closed = true
	manual := l.ManualComplete
	l.mu.Unlock()
	if !manual {
		go func() {
			time.Sleep(time.Millisecond)
			l.FireClose("")
		}()
	}
	return l.CloseErr
}

func (l *Link) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) Flow(credits int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flowCalls = append(l.flowCalls, credits)
	l.credit += credits
	return nil
}

func (l *Link) Credit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit
}

func (l *Link) FlowCalls() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.flowCalls))
	copy(out, l.flowCalls)
	return out
}

func (l *Link) LocalState() eh.EndpointState              { return l.Local }
func (l *Link) RemoteState() eh.EndpointState             { return l.Remote }
func (l *Link) RemoteProperties() map[string]interface{}  { return l.RemoteProps }

// DeliverMessage simulates an inbound transfer by calling the attached
// handler's OnReceiveComplete, the way an AMQP engine would.
func (l *Link) DeliverMessage(msg *eh.Message) {
	if h := l.Handler(); h != nil {
		h.OnReceiveComplete(&Delivery{Msg: msg})
	}
}

// FireError simulates the engine reporting a link error.
func (l *Link) FireError(err error) {
	if h := l.Handler(); h != nil {
		h.OnError(err)
	}
}

// FireOpenComplete simulates the engine acking (or failing) the attach.
func (l *Link) FireOpenComplete(err error) {
	if h := l.Handler(); h != nil {
		h.OnOpenComplete(err)
	}
}

// FireClose simulates the peer detaching.
func (l *Link) FireClose(condition string) {
	if h := l.Handler(); h != nil {
		h.OnClose(condition)
	}
}

// Session hands out a single pre-built Link, or NewErr if set.
type Session struct {
	Link     *Link
	NewErr   error
	CloseErr error
}

func (s *Session) NewReceiver(string) (eh.Link, error) {
	if s.NewErr != nil {
		return nil, s.NewErr
	}
	return s.Link, nil
}

func (s *Session) Close() error { return s.CloseErr }

// TokenProvider always succeeds unless Err is set.
type TokenProvider struct {
	Calls atomic.Int32
	Err   error
}

func (t *TokenProvider) GetToken(audience string, validity time.Duration) (string, error) {
	t.Calls.Add(1)
	if t.Err != nil {
		return "", t.Err
	}
	return "token-for-" + audience, nil
}

// CBSChannel accepts every SendToken call synchronously, on the caller's
// goroutine, mirroring internal/link's fakeCBS.
type CBSChannel struct {
	Sends atomic.Int32
	Err   error
}

func (c *CBSChannel) SendToken(audience, token string, callback func(error)) {
	c.Sends.Add(1)
	callback(c.Err)
}

// RetryPolicy grants a fixed delay up to MaxAttempts times, then declines.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int

	mu       sync.Mutex
	attempts int
}

func (r *RetryPolicy) NextRetry(clientID string, cause error, headPendingRemaining time.Duration) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts >= r.MaxAttempts {
		return 0, false
	}
	r.attempts++
	return r.Delay, true
}

func (r *RetryPolicy) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Factory is an in-process MessagingFactory backed by one dedicated
// goroutine, the same job-queue shape as internal/reactor.Bridge but kept
// free of that import so mocks never depends on the package under test's
// internals.
type Factory struct {
	ClientIDValue string
	HostValue     string
	OpTimeout     time.Duration

	TP    *TokenProvider
	CBS   *CBSChannel
	Retry *RetryPolicy

	SessionFn func(path string) (*Session, error)

	jobs chan func()

	mu     sync.Mutex
	closed bool

	RegisterCalls   atomic.Int32
	DeregisterCalls atomic.Int32
}

// NewFactory starts the reactor goroutine and returns a ready Factory.
func NewFactory(tp *TokenProvider, cbs *CBSChannel, retry *RetryPolicy, session func(path string) (*Session, error)) *Factory {
	f := &Factory{
		ClientIDValue: "mock-client",
		HostValue:     "mock.host",
		OpTimeout:     5 * time.Second,
		TP:            tp,
		CBS:           cbs,
		Retry:         retry,
		SessionFn:     session,
		jobs:          make(chan func(), 256),
	}
	go f.run()
	return f
}

func (f *Factory) run() {
	for job := range f.jobs {
		job()
	}
}

func (f *Factory) HostName() string                { return f.HostValue }
func (f *Factory) ClientID() string                 { return f.ClientIDValue }
func (f *Factory) OperationTimeout() time.Duration  { return f.OpTimeout }

func (f *Factory) Dispatch(job func()) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return eh.ErrRejectedExecution
	}
	f.mu.Unlock()
	f.jobs <- job
	return nil
}

func (f *Factory) DispatchAfter(delay time.Duration, job func()) func() {
	t := time.AfterFunc(delay, func() { _ = f.Dispatch(job) })
	return func() { t.Stop() }
}

func (f *Factory) GetSession(path string, onOpen func(eh.Session), onOpenFailed func(error)) {
	s, err := f.SessionFn(path)
	if err != nil {
		onOpenFailed(err)
		return
	}
	onOpen(s)
}

func (f *Factory) RegisterForConnectionError(eh.Link)   { f.RegisterCalls.Add(1) }
func (f *Factory) DeregisterForConnectionError(eh.Link) { f.DeregisterCalls.Add(1) }

func (f *Factory) RetryPolicy() eh.RetryPolicy     { return f.Retry }
func (f *Factory) CBSChannel() eh.CBSChannel       { return f.CBS }
func (f *Factory) TokenProvider() eh.TokenProvider { return f.TP }

// Shutdown stops the reactor goroutine. Safe to call multiple times.
func (f *Factory) Shutdown() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	close(f.jobs)
}
