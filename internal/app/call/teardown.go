package call

import "github.com/dkeye/VoiceCall/internal/domain"

// finish moves the session to a terminal state and releases every resource it
// holds, exactly once. notify, if set, is sent to the peer first. Must be
// called with mu held.
func (c *Controller) finish(to domain.State, reason domain.EndReason, cerr *domain.CallError, notify domain.SignalType, why domain.RejectReason) {
	if c.torndown {
		return
	}
	c.torndown = true
	c.stopTimer()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if notify != "" {
		var payload any
		if why != "" {
			payload = domain.ReasonPayload{Reason: why}
		}
		c.send(notify, payload)
	}

	if !c.transition(to) {
		c.sess.State = to
	}
	c.sess.EndedAt = c.deps.Clock.Now()
	c.sess.Reason = reason
	c.sess.Err = cerr

	if c.unsubPeer != nil {
		c.unsubPeer()
		c.unsubPeer = nil
	}
	if c.peer != nil {
		c.peer.Close()
	}
	if c.stream != nil {
		c.deps.Media.Release(c.stream)
	}
	c.localCands = nil
	c.remoteOffer = nil
	c.deps.Registry.Release(c.deps.LocalUser, c)

	ev := c.log.Info().Str("reason", string(reason)).Dur("duration", c.sess.Duration())
	if cerr != nil {
		ev = ev.Str("error_kind", cerr.Kind.String()).Err(cerr)
		c.emitError(cerr)
	}
	ev.Msg("call finished")
	c.emit(EventEnded)
}
