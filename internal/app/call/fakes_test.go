package call

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("peer offline")

// switchboard is an in-memory relay. Nothing is delivered until Flush.
type switchboard struct {
	mu      sync.Mutex
	buses   map[domain.UserID]*fakeBus
	offline map[domain.UserID]bool
	queue   []domain.SignalMessage
	sent    []domain.SignalMessage
}

func newSwitchboard() *switchboard {
	return &switchboard{
		buses:   make(map[domain.UserID]*fakeBus),
		offline: make(map[domain.UserID]bool),
	}
}

func (sb *switchboard) bus(user domain.UserID) *fakeBus {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	b := &fakeBus{sb: sb, user: user}
	sb.buses[user] = b
	return b
}

func (sb *switchboard) setOffline(user domain.UserID, off bool) {
	sb.mu.Lock()
	sb.offline[user] = off
	sb.mu.Unlock()
}

func (sb *switchboard) enqueue(msg domain.SignalMessage) {
	sb.mu.Lock()
	sb.queue = append(sb.queue, msg)
	sb.sent = append(sb.sent, msg)
	sb.mu.Unlock()
}

// Flush delivers queued messages, including the ones sent while flushing.
func (sb *switchboard) Flush() int {
	n := 0
	for {
		sb.mu.Lock()
		if len(sb.queue) == 0 {
			sb.mu.Unlock()
			return n
		}
		msg := sb.queue[0]
		sb.queue = sb.queue[1:]
		to, ok := sb.buses[msg.To]
		from := sb.buses[msg.From]
		off := sb.offline[msg.To]
		sb.mu.Unlock()

		n++
		if !ok || off {
			if from != nil {
				from.errs.Emit(&core.SendError{Message: msg, Err: errOffline})
			}
			continue
		}
		to.msgs.Emit(msg)
	}
}

func (sb *switchboard) sentTypes(from domain.UserID) []domain.SignalType {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	var out []domain.SignalType
	for _, m := range sb.sent {
		if m.From == from {
			out = append(out, m.Type)
		}
	}
	return out
}

// sentTo lists the types of every message addressed to user, in send order.
func (sb *switchboard) sentTo(to domain.UserID) []domain.SignalType {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	var out []domain.SignalType
	for _, m := range sb.sent {
		if m.To == to {
			out = append(out, m.Type)
		}
	}
	return out
}

func (sb *switchboard) lastSent(from domain.UserID, t domain.SignalType) (domain.SignalMessage, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for i := len(sb.sent) - 1; i >= 0; i-- {
		if m := sb.sent[i]; m.From == from && m.Type == t {
			return m, true
		}
	}
	return domain.SignalMessage{}, false
}

type fakeBus struct {
	sb   *switchboard
	user domain.UserID
	msgs core.Subscribers[domain.SignalMessage]
	errs core.Subscribers[*core.SendError]
}

func (b *fakeBus) Send(msg domain.SignalMessage) { b.sb.enqueue(msg) }

func (b *fakeBus) OnMessage(fn func(domain.SignalMessage)) func() { return b.msgs.Subscribe(fn) }

func (b *fakeBus) OnError(fn func(*core.SendError)) func() { return b.errs.Subscribe(fn) }

type fakeStream struct {
	id   string
	kind domain.MediaKind
}

func (s *fakeStream) ID() string                  { return s.id }
func (s *fakeStream) Kind() domain.MediaKind      { return s.kind }
func (s *fakeStream) Tracks() []webrtc.TrackLocal { return nil }
func (s *fakeStream) AudioEnabled() bool          { return true }
func (s *fakeStream) VideoEnabled() bool          { return s.kind.HasVideo() }
func (s *fakeStream) Released() bool              { return false }

type mockAcquirer struct{ mock.Mock }

func (m *mockAcquirer) Acquire(ctx context.Context, kind domain.MediaKind) (core.LocalStream, error) {
	args := m.Called(ctx, kind)
	s, _ := args.Get(0).(core.LocalStream)
	return s, args.Error(1)
}

func (m *mockAcquirer) Release(s core.LocalStream) { m.Called(s) }

func (m *mockAcquirer) SetAudioEnabled(s core.LocalStream, enabled bool) error {
	return m.Called(s, enabled).Error(0)
}

func (m *mockAcquirer) SetVideoEnabled(s core.LocalStream, enabled bool) error {
	return m.Called(s, enabled).Error(0)
}

type fakePeer struct {
	id   domain.CallID
	kind domain.MediaKind
	subs core.Subscribers[core.PeerEvent]

	mu           sync.Mutex
	attached     []core.LocalStream
	remote       *webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	closed       int
	offerErr     error
	answerErr    error
	setRemoteErr error
	duringOffer  func(*fakePeer)
}

func (p *fakePeer) AttachStream(s core.LocalStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = append(p.attached, s)
	return nil
}

func (p *fakePeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	hook, err := p.duringOffer, p.offerErr
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer " + string(p.id)}, nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answerErr != nil {
		return webrtc.SessionDescription{}, p.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer " + string(p.id)}, nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setRemoteErr != nil {
		return p.setRemoteErr
	}
	p.remote = &d
	return nil
}

func (p *fakePeer) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Subscribe(fn func(core.PeerEvent)) func() { return p.subs.Subscribe(fn) }

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
}

func (p *fakePeer) state(s core.ConnectionState) {
	p.subs.Emit(core.PeerEvent{Type: core.PeerStateChanged, State: s})
}

func (p *fakePeer) candidate(c string) {
	p.subs.Emit(core.PeerEvent{Type: core.PeerLocalCandidate, Candidate: webrtc.ICECandidateInit{Candidate: c}})
}

func (p *fakePeer) closedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) remoteCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

type fakeFactory struct {
	mu        sync.Mutex
	peers     map[domain.CallID]*fakePeer
	configure func(*fakePeer)
	err       error
}

func (f *fakeFactory) NewPeerSession(id domain.CallID, kind domain.MediaKind) (core.PeerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{id: id, kind: kind}
	if f.configure != nil {
		f.configure(p)
	}
	if f.peers == nil {
		f.peers = make(map[domain.CallID]*fakePeer)
	}
	f.peers[id] = p
	return p, nil
}

func (f *fakeFactory) peer(id domain.CallID) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[id]
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) count(t EventType) int {
	n := 0
	for _, et := range l.types() {
		if et == t {
			n++
		}
	}
	return n
}

func (l *eventLog) last(t EventType) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == t {
			return l.events[i], true
		}
	}
	return Event{}, false
}

type endpoint struct {
	user   domain.UserID
	mgr    *Manager
	reg    *Registry
	media  *mockAcquirer
	stream *fakeStream
	peers  *fakeFactory
	events *eventLog
}

func (e *endpoint) peer(id domain.CallID) *fakePeer { return e.peers.peer(id) }

func (e *endpoint) active(t *testing.T) *Controller {
	t.Helper()
	c, ok := e.mgr.Active()
	require.True(t, ok, "%s has no active call", e.user)
	return c
}

type harness struct {
	sb  *switchboard
	clk *clock.Mock
}

func newHarness() *harness {
	return &harness{sb: newSwitchboard(), clk: clock.NewMock()}
}

// endpoint wires a manager for user with permissive media expectations.
func (h *harness) endpoint(t *testing.T, user domain.UserID, opts Options) *endpoint {
	t.Helper()
	stream := &fakeStream{id: "stream-" + string(user), kind: domain.MediaAudioVideo}
	media := &mockAcquirer{}
	e := &endpoint{
		user:   user,
		reg:    NewRegistry(),
		media:  media,
		stream: stream,
		peers:  &fakeFactory{},
		events: &eventLog{},
	}
	e.mgr = NewManager(Deps{
		LocalUser: user,
		Signal:    h.sb.bus(user),
		Media:     media,
		Peers:     e.peers,
		Registry:  e.reg,
		Clock:     h.clk,
		Options:   opts,
	})
	e.mgr.Subscribe(e.events.add)
	t.Cleanup(e.mgr.Close)
	return e
}

func allowMedia(e *endpoint) {
	e.media.On("Acquire", mock.Anything, mock.Anything).Return(e.stream, nil).Maybe()
	e.media.On("Release", e.stream).Return().Maybe()
	e.media.On("SetAudioEnabled", e.stream, mock.Anything).Return(nil).Maybe()
	e.media.On("SetVideoEnabled", e.stream, mock.Anything).Return(nil).Maybe()
}
