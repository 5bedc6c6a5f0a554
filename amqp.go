package ehreceiver

import "time"

// SenderSettleMode and ReceiverSettleMode mirror the AMQP 1.0 settlement
// modes this core always negotiates: sender-settle-mode=unsettled,
// receiver-settle-mode=second.
type SenderSettleMode int

const (
	SenderSettleUnsettled SenderSettleMode = iota
	SenderSettleSettled
	SenderSettleMixed
)

type ReceiverSettleMode int

const (
	ReceiverSettleFirst ReceiverSettleMode = iota
	ReceiverSettleSecond
)

// EndpointState mirrors the local/remote endpoint states an AMQP link
// reports, used by the retry-schedule guard in the error path: a recreate
// only fires once the local or remote endpoint has actually closed.
type EndpointState int

const (
	EndpointUnspecified EndpointState = iota
	EndpointActive
	EndpointClosed
)

// Delivery wraps one arrived, not-yet-decoded AMQP transfer.
type Delivery interface {
	// Pending reports whether more frames are expected for this delivery.
	Pending() bool
	// Decode parses the delivery into a Message.
	Decode() (*Message, error)
	// Settle acknowledges the delivery. Called immediately after decode,
	// since the link negotiates receiver-settle-mode=second.
	Settle() error
}

// Link is the subset of an attached AMQP receiver-link the core drives
// directly, shaped after pack.ag/amqp's and Azure/go-amqp's Receiver type
// (LinkCredit, LinkSourceFilter, LinkReceiverSettle, Open/Close, Flow).
type Link interface {
	SetSource(address string, filter map[string]interface{})
	SetProperties(props map[string]interface{})
	SetDesiredCapabilities(caps []string)
	SetSettleModes(sender SenderSettleMode, receiver ReceiverSettleMode)
	SetHandler(h LinkHandler)

	Open(audience string) error
	Close() error

	Flow(credits int) error
	Credit() int

	LocalState() EndpointState
	RemoteState() EndpointState
	RemoteProperties() map[string]interface{}
}

// LinkHandler is the downstream interface the AMQP reactor drives this core
// through.
type LinkHandler interface {
	OnOpenComplete(err error)
	OnReceiveComplete(d Delivery)
	OnError(err error)
	OnClose(condition string)
}

// Session creates receiver links scoped to an entity path.
type Session interface {
	NewReceiver(linkName string) (Link, error)
	Close() error
}

// TokenProvider mints a CBS token.
type TokenProvider interface {
	GetToken(audience string, validity time.Duration) (string, error)
}

// CBSChannel sends a token over the claims-based-security link.
type CBSChannel interface {
	SendToken(audience, token string, callback func(error))
}

// RetryPolicy decides whether and when to retry after a link error,
// consulted with the head pending request's remaining deadline so a retry
// never outlives the earliest caller deadline.
type RetryPolicy interface {
	NextRetry(clientID string, cause error, headPendingRemaining time.Duration) (delay time.Duration, ok bool)
}

// MessagingFactory is the non-owning handle to the surrounding connection
// factory: the receiver reads from it but never hands itself back, so no
// back-reference bookkeeping is needed.
type MessagingFactory interface {
	HostName() string
	ClientID() string
	OperationTimeout() time.Duration

	Dispatch(job func()) error
	DispatchAfter(delay time.Duration, job func()) (cancel func())

	GetSession(path string, onOpen func(Session), onOpenFailed func(error))
	RegisterForConnectionError(l Link)
	DeregisterForConnectionError(l Link)

	RetryPolicy() RetryPolicy
	CBSChannel() CBSChannel
	TokenProvider() TokenProvider
}
