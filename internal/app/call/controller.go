package call

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRingTimeout     = 30 * time.Second
	DefaultOutgoingTimeout = 45 * time.Second
)

// Options tune controller timers. Zero OutgoingTimeout disables the caller side
// timer; zero RingTimeout falls back to DefaultRingTimeout.
type Options struct {
	RingTimeout     time.Duration
	OutgoingTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{RingTimeout: DefaultRingTimeout, OutgoingTimeout: DefaultOutgoingTimeout}
}

// Deps are the collaborators shared by every controller of one local user.
type Deps struct {
	LocalUser domain.UserID
	Signal    core.SignalChannel
	Media     core.MediaAcquirer
	Peers     core.PeerFactory
	Registry  *Registry
	Clock     clock.Clock
	Options   Options
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Registry == nil {
		d.Registry = NewRegistry()
	}
	if d.Options.RingTimeout <= 0 {
		d.Options.RingTimeout = DefaultRingTimeout
	}
	return d
}

// Controller drives one CallSession from creation to a terminal state.
// Commands and inbound events are serialized by mu; async work (media
// acquisition, SDP creation) runs without it and re-checks the state on
// completion. Events are queued under mu and delivered after it is released,
// in order.
type Controller struct {
	deps Deps
	log  zerolog.Logger

	mu          sync.Mutex
	sess        domain.CallSession
	cancel      context.CancelFunc
	stream      core.LocalStream
	peer        core.PeerSession
	unsubPeer   func()
	remoteOffer *webrtc.SessionDescription
	localCands  []webrtc.ICECandidateInit
	descSent    bool
	signalled   bool
	timer       *clock.Timer
	timerGen    uint64
	torndown    bool

	emitMu sync.Mutex
	outbox []Event
	events core.Subscribers[Event]
}

func newController(deps Deps, role domain.Role, id domain.CallID) *Controller {
	deps = deps.withDefaults()
	return &Controller{
		deps: deps,
		log: log.With().
			Str("module", "call").
			Str("call", string(id)).
			Str("user", string(deps.LocalUser)).
			Str("role", role.String()).
			Logger(),
		sess: domain.CallSession{ID: id, Role: role, State: domain.StateIdle},
	}
}

func (c *Controller) ID() domain.CallID { return c.sess.ID }

// Session returns a snapshot of the current session.
func (c *Controller) Session() domain.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Subscribe registers fn for every event emitted after the call. The returned
// func removes it.
func (c *Controller) Subscribe(fn func(Event)) func() {
	return c.events.Subscribe(fn)
}

// unlock releases mu and delivers the events queued while it was held.
func (c *Controller) unlock() {
	c.mu.Unlock()
	c.flush()
}

// flush drains the outbox. Only one goroutine delivers at a time; a handler
// that re-enters the controller just queues more events for the running loop.
func (c *Controller) flush() {
	for {
		if !c.emitMu.TryLock() {
			return
		}
		c.mu.Lock()
		batch := c.outbox
		c.outbox = nil
		c.mu.Unlock()
		for _, ev := range batch {
			c.events.Emit(ev)
		}
		c.emitMu.Unlock()

		c.mu.Lock()
		more := len(c.outbox) > 0
		c.mu.Unlock()
		if !more {
			return
		}
	}
}

// emit must be called with mu held.
func (c *Controller) emit(t EventType) {
	c.outbox = append(c.outbox, Event{Type: t, Session: c.sess})
}

func (c *Controller) emitError(cerr *domain.CallError) {
	c.outbox = append(c.outbox, Event{Type: EventError, Session: c.sess, Err: cerr})
}

func (c *Controller) emitTrack(t EventType, track core.TrackInfo) {
	c.outbox = append(c.outbox, Event{Type: t, Session: c.sess, Track: track})
}

// transition must be called with mu held.
func (c *Controller) transition(to domain.State) bool {
	from := c.sess.State
	if !from.CanTransition(to) {
		c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("transition refused")
		return false
	}
	c.sess.State = to
	c.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	return true
}

// opContext derives the context of the current async step. Teardown cancels it.
func (c *Controller) opContext(parent context.Context) context.Context {
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	return ctx
}

// armTimer schedules fire to run under mu if the session is still in state
// when d elapses. Arming replaces any pending timer.
func (c *Controller) armTimer(d time.Duration, state domain.State, fire func()) {
	c.stopTimer()
	if d <= 0 {
		return
	}
	gen := c.timerGen
	c.timer = c.deps.Clock.AfterFunc(d, func() {
		c.mu.Lock()
		if gen != c.timerGen || c.sess.State != state {
			c.mu.Unlock()
			return
		}
		fire()
		c.unlock()
	})
}

func (c *Controller) stopTimer() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// send builds and hands a message for the current peer to the signal channel.
// Delivery failures come back through the channel's error listeners.
func (c *Controller) send(t domain.SignalType, payload any) {
	msg, err := domain.NewSignal(t, c.sess.ID, c.deps.LocalUser, c.sess.PeerID, payload)
	if err != nil {
		c.log.Error().Err(err).Str("type", string(t)).Msg("build signal")
		return
	}
	c.deps.Signal.Send(msg)
	c.signalled = true
	c.log.Debug().Str("type", string(t)).Str("peer", string(c.sess.PeerID)).Msg("signal sent")
}

// sendDescription sends an offer or answer and releases the local candidates
// gathered before it.
func (c *Controller) sendDescription(t domain.SignalType, desc webrtc.SessionDescription) {
	c.send(t, descriptionPayload(desc, c.sess.Kind))
	c.descSent = true
	for _, cand := range c.localCands {
		c.send(domain.SignalICECandidate, cand)
	}
	c.localCands = nil
}

func (c *Controller) sendMediaState() {
	c.send(domain.SignalMediaState, domain.MediaStatePayload{
		Muted:          c.sess.Muted,
		VideoSuspended: c.sess.VideoSuspended,
	})
}

// bindPeer must be called with mu held.
func (c *Controller) bindPeer(p core.PeerSession) {
	c.peer = p
	c.unsubPeer = p.Subscribe(c.onPeerEvent)
}

// attachStream stores the acquired stream, applies the current mute flags to
// it and attaches it to the peer.
func (c *Controller) attachStream(s core.LocalStream) error {
	c.stream = s
	c.emit(EventLocalStreamAttached)
	if c.sess.Muted {
		if err := c.deps.Media.SetAudioEnabled(s, false); err != nil {
			c.log.Warn().Err(err).Msg("apply mute")
		}
	}
	if c.sess.VideoSuspended {
		if err := c.deps.Media.SetVideoEnabled(s, false); err != nil {
			c.log.Warn().Err(err).Msg("apply video suspend")
		}
	}
	if err := c.peer.AttachStream(s); err != nil {
		return asCallError(domain.KindNegotiationFailed, err)
	}
	return nil
}

// hangupSignal is the message that tells the peer we are gone, or "" if the
// peer never heard of this session.
func (c *Controller) hangupSignal() domain.SignalType {
	if c.signalled || c.sess.Role == domain.RoleCallee {
		return domain.SignalEnd
	}
	return ""
}
