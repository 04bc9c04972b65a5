package rtc

import (
	"errors"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

func TestCandidateQueueHoldsUntilReady(t *testing.T) {
	var applied []string
	q := candidateQueue{apply: func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		return nil
	}}

	assert.NoError(t, q.add(webrtc.ICECandidateInit{Candidate: "a"}))
	assert.NoError(t, q.add(webrtc.ICECandidateInit{Candidate: "b"}))
	assert.Empty(t, applied)
	assert.Equal(t, 2, q.len())

	assert.NoError(t, q.ready())
	assert.Equal(t, []string{"a", "b"}, applied)

	assert.NoError(t, q.add(webrtc.ICECandidateInit{Candidate: "c"}))
	assert.Equal(t, []string{"a", "b", "c"}, applied)
	assert.Equal(t, 0, q.len())
}

func TestCandidateQueueKeepsGoingOnError(t *testing.T) {
	bad := errors.New("bad candidate")
	var applied int
	q := candidateQueue{apply: func(c webrtc.ICECandidateInit) error {
		applied++
		if c.Candidate == "x" {
			return bad
		}
		return nil
	}}
	_ = q.add(webrtc.ICECandidateInit{Candidate: "x"})
	_ = q.add(webrtc.ICECandidateInit{Candidate: "y"})

	assert.ErrorIs(t, q.ready(), bad)
	assert.Equal(t, 2, applied)
}

func TestTrackCounterCountsGaps(t *testing.T) {
	var tc trackCounter
	for _, seq := range []uint16{10, 11, 14, 15} {
		tc.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: make([]byte, 100)})
	}
	st := tc.snapshot()
	assert.EqualValues(t, 4, st.Packets)
	assert.EqualValues(t, 400, st.Bytes)
	assert.EqualValues(t, 2, st.Lost)
}

func TestTrackCounterSequenceWrap(t *testing.T) {
	var tc trackCounter
	tc.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 65535}})
	tc.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 0}})
	assert.EqualValues(t, 0, tc.snapshot().Lost)
}
