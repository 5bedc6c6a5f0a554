package ehreceiver

import "time"

// SettingsProvider supplies the receiver-link negotiation details the caller
// controls: the source filter (e.g. resume-from-offset), link properties and
// desired capabilities.
type SettingsProvider interface {
	// Filter builds the AMQP source filter set, keyed by symbol, for the
	// link's next attach. lastReceived is nil on the very first open.
	Filter(lastReceived *Message) map[string]interface{}

	// Properties returns link properties to attach, or nil.
	Properties() map[string]interface{}

	// DesiredCapabilities returns desired capabilities to attach, or nil.
	DesiredCapabilities() []string
}

// ReceiverConfig is immutable after construction.
type ReceiverConfig struct {
	Host          string
	EntityPath    string
	LinkName      string
	Prefetch      int
	OperationTimeout time.Duration
	TokenAudience string
	TokenValidity time.Duration

	Settings SettingsProvider
	Hooks    Hooks
}

// Hooks are injectable test/observability seams stored on the receiver's own
// configuration rather than as process globals.
type Hooks struct {
	// OnOpenRetry fires, on the reactor goroutine, right before a recreate is
	// scheduled after an open failure that the retry policy granted a delay
	// for.
	OnOpenRetry func()

	// OnLinkStateChange fires after every link state transition.
	OnLinkStateChange func(from, to string)
}

func (h Hooks) fireOpenRetry() {
	if h.OnOpenRetry != nil {
		h.OnOpenRetry()
	}
}

func (h Hooks) fireStateChange(from, to string) {
	if h.OnLinkStateChange != nil {
		h.OnLinkStateChange(from, to)
	}
}
