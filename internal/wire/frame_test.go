package wire

import (
	"fmt"
	"testing"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalFrameKeepsMessage(t *testing.T) {
	msg, err := domain.NewSignal(domain.SignalEnd, "c1", "alice", "bob", nil)
	require.NoError(t, err)

	f := NewSignal(msg)
	assert.NotEmpty(t, f.ID)
	b, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	require.NotNil(t, got.Signal)
	assert.Equal(t, domain.CallID("c1"), got.Signal.SessionID)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	for _, raw := range []string{`nope`, `{}`, `{"type":"signal"}`, `{"type":"signal","id":"x"}`} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrBadFrame, raw)
	}
}

func TestReasonMapping(t *testing.T) {
	for _, sentinel := range []error{ErrPeerOffline, ErrRateLimited, ErrBackpressure, ErrBadFrame} {
		wrapped := fmt.Errorf("route: %w", sentinel)
		assert.ErrorIs(t, ErrorOf(ReasonOf(wrapped)), sentinel)
	}
	assert.Equal(t, ReasonPeerOffline, Nack("id", ErrPeerOffline).Error)
	assert.Error(t, ErrorOf("whatever"))
}
