package rtc

import (
	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"
)

// candidateQueue holds remote candidates until the remote description is
// applied, then hands them to apply in arrival order. Not safe for concurrent
// use; Connection guards it.
type candidateQueue struct {
	apply     func(webrtc.ICECandidateInit) error
	pending   []webrtc.ICECandidateInit
	remoteSet bool
}

func (q *candidateQueue) add(c webrtc.ICECandidateInit) error {
	if !q.remoteSet {
		q.pending = append(q.pending, c)
		return nil
	}
	return q.apply(c)
}

// ready marks the remote description as set and applies everything queued.
func (q *candidateQueue) ready() error {
	q.remoteSet = true
	var err error
	for _, c := range q.pending {
		err = multierr.Append(err, q.apply(c))
	}
	q.pending = nil
	return err
}

func (q *candidateQueue) len() int { return len(q.pending) }
