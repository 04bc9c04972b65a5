package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SignalType is the type of a call signaling message.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
	SignalEnd          SignalType = "end"
	SignalReject       SignalType = "reject"
	SignalMediaState   SignalType = "media-state"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICECandidate, SignalEnd, SignalReject, SignalMediaState:
		return true
	}
	return false
}

var ErrBadSignal = errors.New("malformed signal message")

// SignalMessage is the envelope exchanged over the signal channel. Messages are
// correlated to a CallSession by SessionID.
type SignalMessage struct {
	Type      SignalType      `json:"type"`
	SessionID CallID          `json:"sessionId"`
	From      UserID          `json:"from"`
	To        UserID          `json:"to"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewSignal builds a message with payload marshalled to JSON. A nil payload
// leaves Payload empty.
func NewSignal(t SignalType, id CallID, from, to UserID, payload any) (SignalMessage, error) {
	msg := SignalMessage{Type: t, SessionID: id, From: from, To: to}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Payload = b
	return msg, nil
}

// Validate checks the envelope fields, not the payload.
func (m SignalMessage) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrBadSignal, m.Type)
	}
	if m.SessionID == "" {
		return fmt.Errorf("%w: empty sessionId", ErrBadSignal)
	}
	if m.To == "" {
		return fmt.Errorf("%w: empty recipient", ErrBadSignal)
	}
	return nil
}

// Decode unmarshals the payload into v.
func (m SignalMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrBadSignal, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrBadSignal, m.Type, err)
	}
	return nil
}

// DescriptionPayload carries an offer or answer.
type DescriptionPayload struct {
	SDPType string    `json:"type"`
	SDP     string    `json:"sdp"`
	Kind    MediaKind `json:"kind,omitempty"`
}

// RejectReason is sent along with reject and end messages.
type RejectReason string

const (
	RejectDeclined     RejectReason = "declined"
	RejectBusy         RejectReason = "busy"
	RejectTimeout      RejectReason = "timeout"
	RejectIncompatible RejectReason = "incompatible"
)

type ReasonPayload struct {
	Reason RejectReason `json:"reason,omitempty"`
}

// MediaStatePayload syncs the sender's mute/camera state.
type MediaStatePayload struct {
	Muted          bool `json:"muted"`
	VideoSuspended bool `json:"videoSuspended"`
}
