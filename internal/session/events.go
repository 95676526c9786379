package session

import "github.com/google/uuid"

// Event is delivered on the session's Events channel. Consumers must drain
// the channel; the session blocks on delivery rather than dropping events.
type Event interface {
	isEvent()
}

// MessageReceived carries a complete inbound text message.
type MessageReceived struct {
	Text string
}

// MediaReceived carries a fully reassembled inbound transfer.
type MediaReceived struct {
	ID       uuid.UUID
	Data     []byte
	MimeHint string
}

// StateChanged reports a lifecycle transition.
type StateChanged struct {
	Old State
	New State
}

// ErrorKind classifies where a failure originated.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindFrame
	KindCrypto
	KindHandshake
	KindTransfer
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFrame:
		return "frame"
	case KindCrypto:
		return "crypto"
	case KindHandshake:
		return "handshake"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// ErrorEvent reports a non-fatal failure the session recovered from or is
// recovering from, or the final error that closed the session.
type ErrorEvent struct {
	Kind ErrorKind
	Err  error
}

func (MessageReceived) isEvent() {}
func (MediaReceived) isEvent()   {}
func (StateChanged) isEvent()    {}
func (ErrorEvent) isEvent()      {}
