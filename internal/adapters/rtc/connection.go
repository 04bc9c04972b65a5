package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

var errClosed = errors.New("peer session closed")

// Connection is a core.PeerSession on a pion PeerConnection. pion callbacks
// only enqueue events; a single goroutine delivers them to subscribers in
// order.
type Connection struct {
	id    domain.CallID
	kind  domain.MediaKind
	pc    *webrtc.PeerConnection
	log   zerolog.Logger
	prefs codecPreferences

	ctx     context.Context
	cancel  context.CancelFunc
	onClose func()

	subs core.Subscribers[core.PeerEvent]
	wake chan struct{}

	mu      sync.Mutex
	events  []core.PeerEvent
	queue   candidateQueue
	senders []*webrtc.RTPSender
	stats   map[string]*trackCounter
	closed  bool
}

func newConnection(id domain.CallID, kind domain.MediaKind, pc *webrtc.PeerConnection, prefs codecPreferences, onClose func()) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      id,
		kind:    kind,
		pc:      pc,
		log:     log.With().Str("module", "webrtc").Str("call", string(id)).Logger(),
		prefs:   prefs,
		ctx:     ctx,
		cancel:  cancel,
		onClose: onClose,
		wake:    make(chan struct{}, 1),
		stats:   make(map[string]*trackCounter),
	}
	c.queue.apply = pc.AddICECandidate

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			c.log.Debug().Msg("ICE gathering complete")
			return
		}
		c.push(core.PeerEvent{Type: core.PeerLocalCandidate, Candidate: cand.ToJSON()})
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.push(core.PeerEvent{Type: core.PeerStateChanged, State: mapState(s)})
	})
	pc.OnTrack(c.onTrack)

	go c.eventLoop()
	return c
}

func mapState(s webrtc.PeerConnectionState) core.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return core.ConnectionClosed
	default:
		return core.ConnectionNew
	}
}

func (c *Connection) Subscribe(fn func(core.PeerEvent)) func() { return c.subs.Subscribe(fn) }

func (c *Connection) push(ev core.PeerEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.events = append(c.events, ev)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Connection) eventLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		c.mu.Lock()
		batch := c.events
		c.events = nil
		c.mu.Unlock()
		for _, ev := range batch {
			if c.ctx.Err() != nil {
				return
			}
			c.subs.Emit(ev)
		}
	}
}

// AttachStream adds every track of s and applies the codec preference of the
// track kind. A preference that cannot be applied is only logged.
func (c *Connection) AttachStream(s core.LocalStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	for _, track := range s.Tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return err
		}
		c.senders = append(c.senders, sender)
		c.applyPreferences(sender, track.Kind())
		go c.readRTCP(sender)
		c.events = append(c.events, core.PeerEvent{Type: core.PeerLocalTrackReady, Track: core.TrackInfo{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind().String(),
		}})
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Connection) applyPreferences(sender *webrtc.RTPSender, kind webrtc.RTPCodecType) {
	codecs := c.prefs.forKind(sender.GetParameters().Codecs, kind)
	if len(codecs) == 0 {
		return
	}
	for _, tr := range c.pc.GetTransceivers() {
		if tr.Sender() != sender {
			continue
		}
		if err := tr.SetCodecPreferences(codecs); err != nil {
			c.log.Warn().Err(err).Str("kind", kind.String()).Msg("codec preference not applied")
		}
		return
	}
}

// readRTCP drains sender RTCP so interceptors (NACK, reports) keep working.
func (c *Connection) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	info := core.TrackInfo{
		ID:       track.ID(),
		StreamID: track.StreamID(),
		Kind:     track.Kind().String(),
		Codec:    track.Codec().MimeType,
	}
	c.log.Info().Str("kind", info.Kind).Str("track_id", info.ID).Str("codec", info.Codec).Msg("OnTrack received")

	st := &trackCounter{stats: TrackStats{TrackInfo: info}}
	c.mu.Lock()
	c.stats[info.ID] = st
	c.mu.Unlock()

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		if err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}); err != nil {
			c.log.Warn().Err(err).Msg("send PLI")
		}
	}
	c.push(core.PeerEvent{Type: core.PeerRemoteTrackReady, Track: info})
	go drain(c.ctx, track, st)
}

func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	return c.describe(ctx, func() (webrtc.SessionDescription, error) { return c.pc.CreateOffer(nil) })
}

func (c *Connection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	return c.describe(ctx, func() (webrtc.SessionDescription, error) { return c.pc.CreateAnswer(nil) })
}

// describe creates a local description and applies it. Candidates trickle
// through PeerLocalCandidate events afterwards.
func (c *Connection) describe(ctx context.Context, create func() (webrtc.SessionDescription, error)) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return webrtc.SessionDescription{}, domain.NewCallError(domain.KindNegotiationFailed, errClosed)
	}
	desc, err := create()
	if err != nil {
		return webrtc.SessionDescription{}, domain.NewCallError(domain.KindNegotiationFailed, err)
	}
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, domain.NewCallError(domain.KindNegotiationFailed, err)
	}
	return desc, nil
}

// SetRemoteDescription validates and applies desc, then releases the queued
// remote candidates.
func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	parsed, err := validateRemote(desc)
	if err != nil {
		return domain.NewCallError(domain.KindNegotiationFailed, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.NewCallError(domain.KindNegotiationFailed, errClosed)
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return domain.NewCallError(domain.KindNegotiationFailed, err)
	}
	queued := c.queue.len()
	if err := c.queue.ready(); err != nil {
		c.log.Warn().Err(err).Msg("queued candidates rejected")
	}
	c.log.Info().Str("type", desc.Type.String()).Strs("media", mediaKinds(parsed)).Int("queued_candidates", queued).Msg("remote description applied")
	return nil
}

func (c *Connection) AddRemoteCandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	return c.queue.add(cand)
}

// Close is idempotent. The pion teardown runs in the background; the session
// stops emitting events immediately.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	senders := c.senders
	c.events = nil
	c.mu.Unlock()

	c.cancel()
	c.subs.Clear()
	if c.onClose != nil {
		c.onClose()
	}
	go func() {
		var err error
		for _, s := range senders {
			err = multierr.Append(err, s.Stop())
		}
		err = multierr.Append(err, c.pc.Close())
		if err != nil {
			c.log.Error().Err(err).Msg("close error")
			return
		}
		c.log.Info().Msg("closed")
	}()
}

// Stats snapshots the counters of every remote track.
func (c *Connection) Stats() []TrackStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackStats, 0, len(c.stats))
	for _, st := range c.stats {
		out = append(out, st.snapshot())
	}
	return out
}
