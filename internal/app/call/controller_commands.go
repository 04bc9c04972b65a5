package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

var errSelfCall = errors.New("cannot call yourself")

// Start places an outgoing call: idle -> outgoing_ringing, then media, offer
// and ringing. A media failure fails the session before anything is sent.
func (c *Controller) Start(ctx context.Context, peer domain.UserID, kind domain.MediaKind) error {
	if err := c.validateTarget(peer, kind); err != nil {
		return err
	}

	c.mu.Lock()
	if c.sess.Role != domain.RoleCaller || c.sess.State != domain.StateIdle {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	c.sess.PeerID = peer
	c.sess.Kind = kind
	c.sess.StartedAt = c.deps.Clock.Now()
	c.log = c.log.With().Str("peer", string(peer)).Logger()
	c.transition(domain.StateOutgoingRinging)
	c.armTimer(c.deps.Options.OutgoingTimeout, domain.StateOutgoingRinging, c.outgoingTimedOut)
	opCtx := c.opContext(ctx)
	c.unlock()

	stream, err := c.deps.Media.Acquire(opCtx, kind)

	c.mu.Lock()
	if c.sess.State.IsTerminal() {
		c.mu.Unlock()
		if err == nil {
			c.deps.Media.Release(stream)
		}
		return domain.ErrCallEnded
	}
	if err != nil {
		err = c.abort(domain.KindMediaUnavailable, err)
		c.unlock()
		return err
	}
	c.stream = stream
	p, err := c.deps.Peers.NewPeerSession(c.sess.ID, kind)
	if err != nil {
		err = c.abort(domain.KindPeerConnectionFailed, err)
		c.unlock()
		return err
	}
	c.bindPeer(p)
	if err := c.attachStream(stream); err != nil {
		err = c.abort(domain.KindNegotiationFailed, err)
		c.unlock()
		return err
	}
	c.unlock()

	offer, err := p.CreateOffer(opCtx)

	c.mu.Lock()
	if c.sess.State.IsTerminal() {
		c.mu.Unlock()
		return domain.ErrCallEnded
	}
	if err != nil {
		err = c.abort(domain.KindNegotiationFailed, err)
		c.unlock()
		return err
	}
	c.sendDescription(domain.SignalOffer, offer)
	c.emit(EventRinging)
	c.unlock()
	return nil
}

// Accept answers an incoming call: incoming_ringing -> negotiating, then
// media, remote description and answer.
func (c *Controller) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.sess.State != domain.StateIncomingRinging {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	c.stopTimer()
	c.transition(domain.StateNegotiating)
	opCtx := c.opContext(ctx)
	kind := c.sess.Kind
	c.unlock()

	stream, err := c.deps.Media.Acquire(opCtx, kind)

	c.mu.Lock()
	if c.sess.State.IsTerminal() {
		c.mu.Unlock()
		if err == nil {
			c.deps.Media.Release(stream)
		}
		return domain.ErrCallEnded
	}
	if err != nil {
		err = c.abort(domain.KindMediaUnavailable, err)
		c.unlock()
		return err
	}
	c.stream = stream
	if err := c.peer.SetRemoteDescription(*c.remoteOffer); err != nil {
		err = c.abort(domain.KindNegotiationFailed, err)
		c.unlock()
		return err
	}
	if err := c.attachStream(stream); err != nil {
		err = c.abort(domain.KindNegotiationFailed, err)
		c.unlock()
		return err
	}
	p := c.peer
	c.unlock()

	answer, err := p.CreateAnswer(opCtx)

	c.mu.Lock()
	if c.sess.State.IsTerminal() {
		c.mu.Unlock()
		return domain.ErrCallEnded
	}
	if err != nil {
		err = c.abort(domain.KindNegotiationFailed, err)
		c.unlock()
		return err
	}
	c.sendDescription(domain.SignalAnswer, answer)
	c.unlock()
	return nil
}

// Reject declines an incoming call. Only valid while ringing.
func (c *Controller) Reject() error {
	c.mu.Lock()
	if c.sess.State != domain.StateIncomingRinging {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	c.finish(domain.StateEnded, domain.ReasonDeclined, nil, domain.SignalReject, domain.RejectDeclined)
	c.unlock()
	return nil
}

// End hangs up. It is idempotent: on a terminal session it does nothing. An
// incoming call that is still ringing is declined instead.
func (c *Controller) End() error {
	c.mu.Lock()
	switch c.sess.State {
	case domain.StateEnded, domain.StateFailed:
		c.mu.Unlock()
		return nil
	case domain.StateIdle:
		c.finish(domain.StateEnded, domain.ReasonCancelled, nil, "", "")
	case domain.StateIncomingRinging:
		c.finish(domain.StateEnded, domain.ReasonDeclined, nil, domain.SignalReject, domain.RejectDeclined)
	default:
		c.finish(domain.StateEnded, domain.ReasonHangup, nil, c.hangupSignal(), "")
	}
	c.unlock()
	return nil
}

// ToggleMute flips the local microphone and returns the new muted flag.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	if !c.mediaControllable() {
		muted := c.sess.Muted
		c.mu.Unlock()
		return muted, domain.ErrNotApplicable
	}
	next := !c.sess.Muted
	if c.stream != nil {
		if err := c.deps.Media.SetAudioEnabled(c.stream, !next); err != nil {
			muted := c.sess.Muted
			c.mu.Unlock()
			return muted, err
		}
	}
	c.sess.Muted = next
	c.sendMediaState()
	c.log.Info().Bool("muted", next).Msg("microphone toggled")
	c.unlock()
	return next, nil
}

// ToggleVideo flips the local camera and returns the new suspended flag.
// Audio-only calls have nothing to toggle.
func (c *Controller) ToggleVideo() (bool, error) {
	c.mu.Lock()
	if !c.mediaControllable() || !c.sess.Kind.HasVideo() {
		suspended := c.sess.VideoSuspended
		c.mu.Unlock()
		return suspended, domain.ErrNotApplicable
	}
	next := !c.sess.VideoSuspended
	if c.stream != nil {
		if err := c.deps.Media.SetVideoEnabled(c.stream, !next); err != nil {
			suspended := c.sess.VideoSuspended
			c.mu.Unlock()
			return suspended, err
		}
	}
	c.sess.VideoSuspended = next
	c.sendMediaState()
	c.log.Info().Bool("video_suspended", next).Msg("camera toggled")
	c.unlock()
	return next, nil
}

// validateTarget rejects bad Start arguments. An idle controller is ended so
// its registry slot is not left behind.
func (c *Controller) validateTarget(peer domain.UserID, kind domain.MediaKind) error {
	var err error
	switch {
	case !kind.Valid():
		err = fmt.Errorf("unknown media kind %q", kind)
	case peer == "":
		err = domain.ErrUserIDEmpty
	case peer == c.deps.LocalUser:
		err = errSelfCall
	default:
		return nil
	}
	c.mu.Lock()
	if c.sess.State == domain.StateIdle {
		c.finish(domain.StateEnded, domain.ReasonCancelled, nil, "", "")
	}
	c.unlock()
	return err
}

func (c *Controller) mediaControllable() bool {
	return c.sess.State == domain.StateNegotiating || c.sess.State == domain.StateConnected
}

// incoming initializes a callee session from a validated offer. The peer
// session is created right away so candidates that race ahead of Accept are
// queued by it.
func (c *Controller) incoming(from domain.UserID, offer domain.DescriptionPayload) {
	c.mu.Lock()
	defer c.unlock()
	if c.sess.State != domain.StateIdle {
		// Ended through the registry before the offer was applied. The caller
		// still waits for an answer.
		c.log.Info().Str("state", c.sess.State.String()).Msg("offer arrived after local end")
		msg, err := domain.NewSignal(domain.SignalReject, c.sess.ID, c.deps.LocalUser, from,
			domain.ReasonPayload{Reason: domain.RejectDeclined})
		if err != nil {
			c.log.Error().Err(err).Msg("build reject")
			return
		}
		c.deps.Signal.Send(msg)
		return
	}
	c.sess.PeerID = from
	c.sess.Kind = offer.Kind
	c.sess.StartedAt = c.deps.Clock.Now()
	c.log = c.log.With().Str("peer", string(from)).Logger()
	c.remoteOffer = &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	c.transition(domain.StateIncomingRinging)

	p, err := c.deps.Peers.NewPeerSession(c.sess.ID, offer.Kind)
	if err != nil {
		c.finish(domain.StateFailed, domain.ReasonFailed,
			domain.NewCallError(domain.KindPeerConnectionFailed, err),
			domain.SignalReject, domain.RejectIncompatible)
		return
	}
	c.bindPeer(p)
	c.armTimer(c.deps.Options.RingTimeout, domain.StateIncomingRinging, c.ringTimedOut)
	c.emit(EventRinging)
}

func (c *Controller) ringTimedOut() {
	c.log.Info().Msg("incoming call not answered")
	c.finish(domain.StateEnded, domain.ReasonTimeout,
		domain.NewCallError(domain.KindTimeout, nil),
		domain.SignalReject, domain.RejectTimeout)
}

func (c *Controller) outgoingTimedOut() {
	c.log.Info().Msg("outgoing call not answered")
	c.finish(domain.StateEnded, domain.ReasonTimeout,
		domain.NewCallError(domain.KindTimeout, nil),
		c.hangupSignal(), "")
}

// abort ends the session after a failed step and returns the error the
// command should report. Cancellation ends the call quietly.
func (c *Controller) abort(kind domain.ErrorKind, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.finish(domain.StateEnded, domain.ReasonCancelled, nil, c.hangupSignal(), "")
		return err
	}
	cerr := asCallError(kind, err)
	c.finish(domain.StateFailed, domain.ReasonFailed, cerr, c.hangupSignal(), "")
	return cerr
}

func asCallError(kind domain.ErrorKind, err error) *domain.CallError {
	var ce *domain.CallError
	if errors.As(err, &ce) {
		return ce
	}
	return domain.NewCallError(kind, err)
}
