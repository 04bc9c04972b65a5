package call

import (
	"fmt"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

func (c *Controller) onPeerEvent(ev core.PeerEvent) {
	c.mu.Lock()
	defer c.unlock()
	if c.sess.State.IsTerminal() {
		return
	}

	switch ev.Type {
	case core.PeerLocalCandidate:
		if !c.descSent {
			c.localCands = append(c.localCands, ev.Candidate)
			return
		}
		c.send(domain.SignalICECandidate, ev.Candidate)
	case core.PeerLocalTrackReady:
		c.log.Debug().Str("track", ev.Track.ID).Str("codec", ev.Track.Codec).Msg("local track negotiated")
	case core.PeerRemoteTrackReady:
		c.log.Info().Str("track", ev.Track.ID).Str("kind", ev.Track.Kind).Str("codec", ev.Track.Codec).Msg("remote track attached")
		c.emitTrack(EventRemoteStreamAttached, ev.Track)
	case core.PeerStateChanged:
		c.onPeerState(ev.State)
	}
}

func (c *Controller) onPeerState(s core.ConnectionState) {
	c.log.Debug().Str("peer_state", s.String()).Str("state", c.sess.State.String()).Msg("peer state")
	switch s {
	case core.ConnectionConnected:
		if c.sess.State != domain.StateNegotiating {
			return
		}
		c.sess.ConnectedAt = c.deps.Clock.Now()
		c.transition(domain.StateConnected)
		c.emit(EventConnected)
	case core.ConnectionDisconnected, core.ConnectionFailed, core.ConnectionClosed:
		if c.sess.State != domain.StateNegotiating && c.sess.State != domain.StateConnected {
			return
		}
		c.finish(domain.StateFailed, domain.ReasonFailed,
			domain.NewCallError(domain.KindPeerConnectionFailed, fmt.Errorf("peer connection %s", s)),
			domain.SignalEnd, "")
	}
}
