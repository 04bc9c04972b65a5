// Package wire is the JSON envelope spoken between softphones and the relay.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/google/uuid"
)

type FrameType string

const (
	FrameSignal FrameType = "signal"
	FrameAck    FrameType = "ack"
	FrameNack   FrameType = "nack"
	FramePing   FrameType = "ping"
	FramePong   FrameType = "pong"
	FrameHello  FrameType = "hello"
	FrameWhoAmI FrameType = "whoami"
)

// Frame is one WebSocket text message. Signal frames carry a unique ID that
// the relay echoes in its ack or nack and forwards to the recipient, so
// resends can be recognized.
type Frame struct {
	Type   FrameType             `json:"type"`
	ID     string                `json:"id,omitempty"`
	Signal *domain.SignalMessage `json:"signal,omitempty"`
	Error  string                `json:"error,omitempty"`
	User   domain.UserID         `json:"user,omitempty"`
}

// Nack reasons.
const (
	ReasonPeerOffline  = "peer_offline"
	ReasonRateLimited  = "rate_limited"
	ReasonBackpressure = "backpressure"
	ReasonBadFrame     = "bad_frame"
)

var (
	ErrPeerOffline  = errors.New("peer offline")
	ErrRateLimited  = errors.New("rate limited")
	ErrBackpressure = errors.New("backpressure")
	ErrBadFrame     = errors.New("bad frame")
)

var reasons = map[string]error{
	ReasonPeerOffline:  ErrPeerOffline,
	ReasonRateLimited:  ErrRateLimited,
	ReasonBackpressure: ErrBackpressure,
	ReasonBadFrame:     ErrBadFrame,
}

// ReasonOf maps a relay error to its nack reason.
func ReasonOf(err error) string {
	for reason, sentinel := range reasons {
		if errors.Is(err, sentinel) {
			return reason
		}
	}
	return ReasonBadFrame
}

// ErrorOf maps a nack reason back to its sentinel.
func ErrorOf(reason string) error {
	if err, ok := reasons[reason]; ok {
		return err
	}
	return fmt.Errorf("relay: %s", reason)
}

func NewSignal(msg domain.SignalMessage) Frame {
	return Frame{Type: FrameSignal, ID: uuid.NewString(), Signal: &msg}
}

func Ack(id string) Frame { return Frame{Type: FrameAck, ID: id} }

func Nack(id string, err error) Frame {
	return Frame{Type: FrameNack, ID: id, Error: ReasonOf(err)}
}

func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return b, nil
}

func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrBadFrame)
	}
	if f.Type == FrameSignal {
		if f.ID == "" || f.Signal == nil {
			return Frame{}, fmt.Errorf("%w: signal without id or body", ErrBadFrame)
		}
	}
	return f, nil
}
