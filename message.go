package ehreceiver

import "time"

// Message is the decoded, settled unit of delivery handed to callers. The
// wire-level decode happens in the external AMQP library, out of scope for
// this core; what we receive via Delivery.Decode is already this shape.
type Message struct {
	// Data is the raw application payload.
	Data []byte

	// MessageID is the AMQP application-properties message-id, when present.
	MessageID string

	// Offset and SequenceNumber are Event-Hubs-style annotations carried in
	// the message's delivery-annotations, used by a SettingsProvider to build
	// a resume filter for a replacement link via LastReceivedMessage.
	Offset         string
	SequenceNumber int64
	EnqueuedTime   time.Time

	// Properties holds any other application or delivery annotations the
	// caller's SettingsProvider may need.
	Properties map[string]interface{}
}

// ErrorContext is a point-in-time snapshot for diagnostics, assembled under
// the dedicated error-condition mutex. It is intentionally a named struct
// rather than an untyped map so callers get compile-time field checking.
type ErrorContext struct {
	Host               string
	EntityPath         string
	TrackingID         string
	Prefetch           int
	Credit             int
	PrefetchBufferSize int
	RetryAttempts      int
	LinkState          string
	LastError          error
}
