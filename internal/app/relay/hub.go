package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/wire"
	"github.com/rs/zerolog/log"
)

// ErrBackpressure is returned by a connection whose send queue is full.
var ErrBackpressure = wire.ErrBackpressure

// ErrPeerOffline is returned when the recipient has no connection.
var ErrPeerOffline = wire.ErrPeerOffline

// Hub forwards signal frames between connected users. It never inspects
// payloads beyond the envelope.
type Hub struct {
	Registry *Registry
	Policy   Policy
	Metrics  *Metrics
}

func NewHub(reg *Registry, policy Policy, metrics *Metrics) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{Registry: reg, Policy: policy, Metrics: metrics}
}

func (h *Hub) Connect(user domain.UserID, conn core.SignalConnection, cancel context.CancelFunc) {
	h.Registry.Bind(user, conn, cancel)
	h.Metrics.setConnected(h.Registry.Count())
}

func (h *Hub) Disconnect(user domain.UserID, conn core.SignalConnection) {
	if h.Registry.Unbind(user, conn) {
		h.Metrics.setConnected(h.Registry.Count())
	}
}

// Route hands f to the connection of its recipient. Ownership of the frame
// ends once TrySend accepts it.
func (h *Hub) Route(f wire.Frame) error {
	msg := f.Signal
	conn, ok := h.Registry.Get(msg.To)
	if !ok {
		h.Metrics.frame(wire.ReasonPeerOffline)
		return fmt.Errorf("route to %s: %w", msg.To, ErrPeerOffline)
	}
	data, err := wire.Encode(f)
	if err != nil {
		h.Metrics.frame(wire.ReasonBadFrame)
		return fmt.Errorf("%w: %v", wire.ErrBadFrame, err)
	}
	if err := conn.TrySend(data); err != nil {
		if !errors.Is(err, ErrBackpressure) {
			h.Metrics.frame(wire.ReasonPeerOffline)
			return fmt.Errorf("route to %s: %w", msg.To, ErrPeerOffline)
		}
		action := h.Policy.OnBackPressure(msg.To, conn)
		log.Warn().Str("module", "relay.hub").Str("to", string(msg.To)).Str("action", action.String()).Msg("recipient backpressure")
		if action == Disconnect {
			h.Registry.Cancel(msg.To)
		}
		h.Metrics.frame(wire.ReasonBackpressure)
		return fmt.Errorf("route to %s: %w", msg.To, ErrBackpressure)
	}
	h.Metrics.frame("delivered")
	h.Metrics.signal(string(msg.Type))
	log.Debug().Str("module", "relay.hub").Str("from", string(msg.From)).Str("to", string(msg.To)).
		Str("type", string(msg.Type)).Str("sid", string(msg.SessionID)).Msg("relayed")
	return nil
}
