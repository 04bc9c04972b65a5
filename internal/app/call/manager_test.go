package call

import (
	"context"
	"testing"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownSessionDiscarded(t *testing.T) {
	h := newHarness()
	b := h.endpoint(t, bob, Options{})
	allowMedia(b)

	bus := h.sb.bus("mallory")
	for _, typ := range []domain.SignalType{domain.SignalAnswer, domain.SignalICECandidate, domain.SignalEnd} {
		msg, err := domain.NewSignal(typ, "no-such-call", "mallory", bob, map[string]string{"candidate": "x"})
		require.NoError(t, err)
		bus.Send(msg)
	}
	h.sb.Flush()

	_, busy := b.mgr.Active()
	assert.False(t, busy)
	assert.Empty(t, b.events.types())
	assert.Empty(t, h.sb.sentTypes(bob))
}

func TestMalformedOfferRejectedAsIncompatible(t *testing.T) {
	h := newHarness()
	b := h.endpoint(t, bob, Options{})
	allowMedia(b)

	bus := h.sb.bus("mallory")
	msg, err := domain.NewSignal(domain.SignalOffer, "s1", "mallory", bob, domain.DescriptionPayload{SDPType: "offer", SDP: "v=0", Kind: "smell"})
	require.NoError(t, err)
	bus.Send(msg)
	h.sb.Flush()

	_, busy := b.mgr.Active()
	assert.False(t, busy)
	rej, ok := h.sb.lastSent(bob, domain.SignalReject)
	require.True(t, ok)
	var p domain.ReasonPayload
	require.NoError(t, rej.Decode(&p))
	assert.Equal(t, domain.RejectIncompatible, p.Reason)
}

func TestSignalFromStrangerIgnored(t *testing.T) {
	h := newHarness()
	a := h.endpoint(t, alice, Options{})
	b := h.endpoint(t, bob, Options{})
	allowMedia(a)
	allowMedia(b)

	out, err := a.mgr.StartCall(context.Background(), bob, domain.MediaAudio)
	require.NoError(t, err)

	bus := h.sb.bus("mallory")
	msg, err := domain.NewSignal(domain.SignalEnd, out.ID(), "mallory", alice, nil)
	require.NoError(t, err)
	bus.Send(msg)
	h.sb.Flush()

	assert.Equal(t, domain.StateOutgoingRinging, out.Session().State)
}

func TestReplayedOfferForFinishedCallIgnored(t *testing.T) {
	h := newHarness()
	a := h.endpoint(t, alice, Options{})
	b := h.endpoint(t, bob, Options{})
	allowMedia(a)
	allowMedia(b)

	out, err := a.mgr.StartCall(context.Background(), bob, domain.MediaAudio)
	require.NoError(t, err)
	h.sb.Flush()
	require.NoError(t, b.active(t).Reject())

	offer, ok := h.sb.lastSent(alice, domain.SignalOffer)
	require.True(t, ok)
	h.sb.enqueue(offer)
	h.sb.Flush()

	_, busy := b.mgr.Active()
	assert.False(t, busy)
	assert.Equal(t, 1, b.events.count(EventRinging))
	assert.Equal(t, domain.StateEnded, out.Session().State)
}

func TestManagerCloseEndsCalls(t *testing.T) {
	h := newHarness()
	a := h.endpoint(t, alice, Options{})
	b := h.endpoint(t, bob, Options{})
	allowMedia(a)
	allowMedia(b)
	out, in := connect(t, h, a, b, domain.MediaAudio)

	a.mgr.Close()
	a.mgr.Close()
	assert.Equal(t, domain.StateEnded, out.Session().State)

	h.sb.Flush()
	assert.Equal(t, domain.StateEnded, in.Session().State)

	_, err := a.mgr.StartCall(context.Background(), bob, domain.MediaAudio)
	assert.ErrorIs(t, err, domain.ErrCallEnded)
}

func TestOfferAppliedAfterLocalEndCreatesNoPeer(t *testing.T) {
	h := newHarness()
	b := h.endpoint(t, bob, Options{})
	allowMedia(b)

	// The UI can reach the callee slot before the offer is applied to it.
	deps := b.mgr.deps
	c, err := b.reg.TryAcquire(bob, func() *Controller {
		return newController(deps, domain.RoleCallee, "s1")
	})
	require.NoError(t, err)
	b.mgr.track(c)
	require.NoError(t, c.End())

	c.incoming(alice, domain.DescriptionPayload{SDPType: "offer", SDP: "v=0", Kind: domain.MediaAudio})

	s := c.Session()
	assert.Equal(t, domain.StateEnded, s.State)
	assert.Equal(t, domain.ReasonCancelled, s.Reason)
	assert.Nil(t, b.peer("s1"))
	assert.Zero(t, b.events.count(EventRinging))
	assert.Equal(t, 1, b.events.count(EventEnded))
	_, busy := b.mgr.Active()
	assert.False(t, busy)

	rej, ok := h.sb.lastSent(bob, domain.SignalReject)
	require.True(t, ok)
	assert.Equal(t, alice, rej.To)
	assert.Equal(t, domain.CallID("s1"), rej.SessionID)
	var p domain.ReasonPayload
	require.NoError(t, rej.Decode(&p))
	assert.Equal(t, domain.RejectDeclined, p.Reason)
}
