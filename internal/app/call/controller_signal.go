package call

import (
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// handleSignal applies an inbound message routed to this session.
func (c *Controller) handleSignal(msg domain.SignalMessage) {
	c.mu.Lock()
	defer c.unlock()

	if c.sess.State.IsTerminal() {
		c.log.Debug().Str("type", string(msg.Type)).Msg("signal for finished call dropped")
		return
	}
	if msg.From != c.sess.PeerID {
		c.log.Warn().Str("type", string(msg.Type)).Str("from", string(msg.From)).Msg("signal from unexpected sender dropped")
		return
	}

	switch msg.Type {
	case domain.SignalOffer:
		c.log.Debug().Msg("duplicate offer ignored")
	case domain.SignalAnswer:
		c.onAnswer(msg)
	case domain.SignalICECandidate:
		c.onRemoteCandidate(msg)
	case domain.SignalEnd:
		c.log.Info().Msg("remote hung up")
		c.finish(domain.StateEnded, domain.ReasonRemoteHangup, nil, "", "")
	case domain.SignalReject:
		c.onReject(msg)
	case domain.SignalMediaState:
		c.onMediaState(msg)
	}
}

func (c *Controller) onAnswer(msg domain.SignalMessage) {
	if c.sess.State != domain.StateOutgoingRinging || !c.descSent {
		c.log.Debug().Str("state", c.sess.State.String()).Msg("unexpected answer ignored")
		return
	}
	desc, _, err := decodeDescription(msg, webrtc.SDPTypeAnswer)
	if err == nil {
		err = c.peer.SetRemoteDescription(desc)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("answer rejected")
		c.finish(domain.StateFailed, domain.ReasonFailed,
			asCallError(domain.KindNegotiationFailed, err), domain.SignalEnd, "")
		return
	}
	c.stopTimer()
	c.transition(domain.StateNegotiating)
}

func (c *Controller) onRemoteCandidate(msg domain.SignalMessage) {
	cand, err := decodeCandidate(msg)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad remote candidate")
		return
	}
	if c.peer == nil {
		c.log.Debug().Msg("remote candidate before peer session, dropped")
		return
	}
	if err := c.peer.AddRemoteCandidate(cand); err != nil {
		c.log.Warn().Err(err).Msg("add remote candidate")
	}
}

func (c *Controller) onReject(msg domain.SignalMessage) {
	var p domain.ReasonPayload
	if len(msg.Payload) > 0 {
		if err := msg.Decode(&p); err != nil {
			c.log.Debug().Err(err).Msg("reject payload ignored")
		}
	}
	if c.sess.State != domain.StateOutgoingRinging {
		c.finish(domain.StateEnded, domain.ReasonRemoteHangup, nil, "", "")
		return
	}
	reason := domain.ReasonRemoteDeclined
	switch p.Reason {
	case domain.RejectBusy:
		reason = domain.ReasonBusy
	case domain.RejectTimeout:
		reason = domain.ReasonTimeout
	}
	c.log.Info().Str("reason", string(p.Reason)).Msg("call rejected by peer")
	c.finish(domain.StateEnded, reason, nil, "", "")
}

func (c *Controller) onMediaState(msg domain.SignalMessage) {
	var p domain.MediaStatePayload
	if err := msg.Decode(&p); err != nil {
		c.log.Warn().Err(err).Msg("bad media state")
		return
	}
	c.sess.RemoteMuted = p.Muted
	c.sess.RemoteVideoSuspended = p.VideoSuspended
	c.emit(EventRemoteMediaState)
}

// handleSendError reacts to a message the signal channel could not deliver.
// Before the media path is up that is fatal; afterwards the call keeps going.
func (c *Controller) handleSendError(se *core.SendError) {
	c.mu.Lock()
	defer c.unlock()
	if c.sess.State.IsTerminal() {
		return
	}
	if c.sess.State == domain.StateConnected {
		c.log.Warn().Err(se).Str("type", string(se.Message.Type)).Msg("signal lost on connected call")
		return
	}
	c.log.Warn().Err(se).Str("type", string(se.Message.Type)).Msg("signaling unavailable")
	c.finish(domain.StateFailed, domain.ReasonFailed,
		domain.NewCallError(domain.KindSignalingUnavailable, se), "", "")
}
