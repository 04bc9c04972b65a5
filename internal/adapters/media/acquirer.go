package media

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CaptureFunc opens the microphone, and the camera when kind has video.
// It may block while the platform asks the user for permission.
type CaptureFunc func(ctx context.Context, kind domain.MediaKind) ([]DeviceTrack, error)

var errForeignStream = errors.New("stream not owned by this acquirer")

// Acquirer implements core.MediaAcquirer on top of a CaptureFunc.
type Acquirer struct {
	capture CaptureFunc
	log     zerolog.Logger

	mu   sync.Mutex
	live map[string]*Stream
}

var _ core.MediaAcquirer = (*Acquirer)(nil)

func NewAcquirer(capture CaptureFunc) *Acquirer {
	return &Acquirer{
		capture: capture,
		log:     log.With().Str("module", "media").Logger(),
		live:    make(map[string]*Stream),
	}
}

type captureResult struct {
	tracks []DeviceTrack
	err    error
}

func (a *Acquirer) Acquire(ctx context.Context, kind domain.MediaKind) (core.LocalStream, error) {
	if !kind.Valid() {
		return nil, domain.NewMediaError(domain.MediaUnknown, errors.New("invalid media kind "+string(kind)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan captureResult, 1)
	go func() {
		tracks, err := a.capture(ctx, kind)
		done <- captureResult{tracks: tracks, err: err}
	}()

	select {
	case <-ctx.Done():
		// The capture may still complete; nobody will own those devices.
		go func() {
			r := <-done
			if err := closeTracks(r.tracks); err != nil {
				a.log.Warn().Err(err).Msg("release late capture")
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			me := Classify(r.err)
			a.log.Warn().Err(r.err).Str("failure", me.Failure.String()).Str("kind", string(kind)).Msg("capture failed")
			return nil, me
		}
		s := newStream(kind, r.tracks)
		if !s.has(webrtc.RTPCodecTypeAudio) || (kind.HasVideo() && !s.has(webrtc.RTPCodecTypeVideo)) {
			_ = s.release()
			return nil, domain.NewMediaError(domain.MediaDeviceNotFound, errors.New("capture returned no matching tracks"))
		}
		a.mu.Lock()
		a.live[s.id] = s
		a.mu.Unlock()
		a.log.Info().Str("stream", s.id).Str("kind", string(kind)).Int("tracks", len(r.tracks)).Msg("media acquired")
		return s, nil
	}
}

func (a *Acquirer) Release(ls core.LocalStream) {
	s, ok := ls.(*Stream)
	if !ok || s == nil {
		return
	}
	a.mu.Lock()
	delete(a.live, s.id)
	a.mu.Unlock()
	if s.Released() {
		return
	}
	if err := s.release(); err != nil {
		a.log.Warn().Err(err).Str("stream", s.id).Msg("release tracks")
		return
	}
	a.log.Info().Str("stream", s.id).Msg("media released")
}

func (a *Acquirer) SetAudioEnabled(ls core.LocalStream, enabled bool) error {
	s, err := a.own(ls)
	if err != nil {
		return err
	}
	s.audioOn.Store(enabled)
	return nil
}

func (a *Acquirer) SetVideoEnabled(ls core.LocalStream, enabled bool) error {
	s, err := a.own(ls)
	if err != nil {
		return err
	}
	if !s.kind.HasVideo() {
		return domain.ErrNotApplicable
	}
	s.videoOn.Store(enabled)
	return nil
}

// Live reports how many acquired streams are not released yet.
func (a *Acquirer) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

func (a *Acquirer) own(ls core.LocalStream) (*Stream, error) {
	s, ok := ls.(*Stream)
	if !ok || s == nil {
		return nil, errForeignStream
	}
	if s.Released() {
		return nil, domain.ErrCallEnded
	}
	return s, nil
}
