package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// TrackStats counts what arrived on a remote track.
type TrackStats struct {
	core.TrackInfo
	Packets uint64
	Bytes   uint64
	Lost    uint64
}

type trackCounter struct {
	mu      sync.Mutex
	stats   TrackStats
	lastSeq uint16
	started bool
}

func (t *trackCounter) observe(pkt *rtp.Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Packets++
	t.stats.Bytes += uint64(len(pkt.Payload))
	if t.started {
		if gap := pkt.SequenceNumber - t.lastSeq; gap > 1 && gap < 1<<15 {
			t.stats.Lost += uint64(gap - 1)
		}
	}
	t.lastSeq = pkt.SequenceNumber
	t.started = true
}

func (t *trackCounter) snapshot() TrackStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// drain reads the remote track until it ends. Playback is left to the UI
// layer; the counters feed the stats command.
func drain(ctx context.Context, track *webrtc.TrackRemote, t *trackCounter) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		t.observe(pkt)
	}
}
