package call

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const finishedMemory = 256

// Manager owns the controllers of one local user. It listens on the signal
// channel, routes messages by session id and turns unknown offers into
// incoming calls.
type Manager struct {
	deps Deps
	log  zerolog.Logger

	mu       sync.RWMutex
	calls    map[domain.CallID]*Controller
	finished *lru.Cache[domain.CallID, struct{}]
	closed   bool

	events core.Subscribers[Event]
	unsubs []func()
}

func NewManager(deps Deps) *Manager {
	deps = deps.withDefaults()
	finished, _ := lru.New[domain.CallID, struct{}](finishedMemory)
	m := &Manager{
		deps:     deps,
		log:      log.With().Str("module", "call.manager").Str("user", string(deps.LocalUser)).Logger(),
		calls:    make(map[domain.CallID]*Controller),
		finished: finished,
	}
	m.unsubs = append(m.unsubs,
		deps.Signal.OnMessage(m.handleMessage),
		deps.Signal.OnError(m.handleSendError),
	)
	return m
}

// Subscribe receives the events of every call of this manager.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.events.Subscribe(fn)
}

// Active returns the controller currently holding the local user's slot.
func (m *Manager) Active() (*Controller, bool) {
	return m.deps.Registry.Active(m.deps.LocalUser)
}

// StartCall acquires the call slot and starts an outgoing call. When the slot
// is taken the returned error has KindConcurrentCallRejected and no controller
// is created. On other failures the controller is returned already finished.
func (m *Manager) StartCall(ctx context.Context, peer domain.UserID, kind domain.MediaKind) (*Controller, error) {
	if m.isClosed() {
		return nil, domain.ErrCallEnded
	}
	c, err := m.deps.Registry.TryAcquire(m.deps.LocalUser, func() *Controller {
		return newController(m.deps, domain.RoleCaller, domain.CallID(uuid.NewString()))
	})
	if err != nil {
		return nil, err
	}
	m.track(c)
	if err := c.Start(ctx, peer, kind); err != nil {
		return c, err
	}
	return c, nil
}

func (m *Manager) track(c *Controller) {
	m.mu.Lock()
	m.calls[c.ID()] = c
	m.mu.Unlock()

	var unsub func()
	unsub = c.Subscribe(func(ev Event) {
		m.events.Emit(ev)
		if ev.Type == EventEnded {
			m.untrack(ev.Session.ID)
			unsub()
		}
	})
}

func (m *Manager) untrack(id domain.CallID) {
	m.mu.Lock()
	delete(m.calls, id)
	m.mu.Unlock()
	m.finished.Add(id, struct{}{})
}

func (m *Manager) lookup(id domain.CallID) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[id]
	return c, ok
}

func (m *Manager) handleMessage(msg domain.SignalMessage) {
	if msg.To != m.deps.LocalUser {
		m.log.Debug().Str("to", string(msg.To)).Msg("signal for another user dropped")
		return
	}
	if err := msg.Validate(); err != nil {
		m.log.Warn().Err(err).Msg("invalid signal dropped")
		return
	}
	if c, ok := m.lookup(msg.SessionID); ok {
		c.handleSignal(msg)
		return
	}
	if msg.Type != domain.SignalOffer {
		m.log.Debug().Str("type", string(msg.Type)).Str("sid", string(msg.SessionID)).Msg("signal for unknown session discarded")
		return
	}
	if m.finished.Contains(msg.SessionID) {
		m.log.Debug().Str("sid", string(msg.SessionID)).Msg("offer for finished session ignored")
		return
	}
	m.handleOffer(msg)
}

func (m *Manager) handleOffer(msg domain.SignalMessage) {
	lg := m.log.With().Str("sid", string(msg.SessionID)).Str("from", string(msg.From)).Logger()
	if m.isClosed() {
		return
	}
	_, kind, err := decodeDescription(msg, webrtc.SDPTypeOffer)
	if err == nil && !kind.Valid() {
		err = domain.ErrBadSignal
	}
	if err != nil {
		lg.Warn().Err(err).Msg("offer rejected")
		m.reply(msg, domain.RejectIncompatible)
		return
	}

	c, err := m.deps.Registry.TryAcquire(m.deps.LocalUser, func() *Controller {
		return newController(m.deps, domain.RoleCallee, msg.SessionID)
	})
	if err != nil {
		lg.Info().Msg("busy, offer rejected")
		m.reply(msg, domain.RejectBusy)
		return
	}
	lg.Info().Str("kind", string(kind)).Msg("incoming call")
	m.track(c)

	var p domain.DescriptionPayload
	_ = msg.Decode(&p)
	c.incoming(msg.From, p)
}

// reply rejects an offer that never got a controller.
func (m *Manager) reply(offer domain.SignalMessage, why domain.RejectReason) {
	msg, err := domain.NewSignal(domain.SignalReject, offer.SessionID, m.deps.LocalUser, offer.From, domain.ReasonPayload{Reason: why})
	if err != nil {
		m.log.Error().Err(err).Msg("build reject")
		return
	}
	m.deps.Signal.Send(msg)
}

func (m *Manager) handleSendError(se *core.SendError) {
	if c, ok := m.lookup(se.Message.SessionID); ok {
		c.handleSendError(se)
		return
	}
	m.log.Debug().Err(se).Str("sid", string(se.Message.SessionID)).Msg("send error for untracked session")
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Close ends every tracked call and detaches from the signal channel.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	calls := make([]*Controller, 0, len(m.calls))
	for _, c := range m.calls {
		calls = append(calls, c)
	}
	m.mu.Unlock()

	for _, c := range calls {
		_ = c.End()
	}
	for _, u := range m.unsubs {
		u()
	}
	m.log.Info().Int("ended", len(calls)).Msg("call manager closed")
}
