package core

import "github.com/dkeye/VoiceCall/internal/domain"

// Frame is a raw encoded frame on the signaling transport.
type Frame []byte

// SignalConnection abstracts the relay-side transport endpoint of one user.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalChannel is the client-side, ordered, at-least-once message channel
// between two identified parties.
type SignalChannel interface {
	// Send never blocks and never fails synchronously; delivery failures are
	// reported later through OnError handlers.
	Send(msg domain.SignalMessage)
	// OnMessage delivers inbound messages in arrival order.
	OnMessage(fn func(domain.SignalMessage)) (unsubscribe func())
	OnError(fn func(*SendError)) (unsubscribe func())
}

// SendError reports a message that could not be delivered.
type SendError struct {
	Message domain.SignalMessage
	Err     error
}

func (e *SendError) Error() string {
	return "send " + string(e.Message.Type) + " to " + string(e.Message.To) + ": " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }
