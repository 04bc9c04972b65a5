package relay

import (
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	Disconnect
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case Disconnect:
		return "disconnect"
	default:
		return "none"
	}
}

// Policy decides what to do with a recipient whose send queue is full.
type Policy interface {
	OnBackPressure(user domain.UserID, conn core.SignalConnection) BackpressureAction
}

// SimplePolicy drops the frame; the sender gets a nack and retries nothing.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.UserID, core.SignalConnection) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects slow consumers. Their client reconnects with a fresh
// queue and resends what was not acked.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.UserID, core.SignalConnection) BackpressureAction {
	return Disconnect
}

// PolicyByName maps the config value to a Policy.
func PolicyByName(name string) Policy {
	if name == "kick" {
		return KickPolicy{}
	}
	return SimplePolicy{}
}
