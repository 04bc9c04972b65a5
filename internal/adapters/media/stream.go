package media

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"
)

// DeviceTrack is a captured track backed by a device. Close stops the device.
type DeviceTrack interface {
	webrtc.TrackLocal
	Close() error
}

type audioTransformer interface {
	Transform(fns ...audio.TransformFunc)
}

type videoTransformer interface {
	Transform(fns ...video.TransformFunc)
}

// Stream is the LocalStream handed out by Acquirer.
type Stream struct {
	id     string
	kind   domain.MediaKind
	tracks []DeviceTrack

	audioOn atomic.Bool
	videoOn atomic.Bool

	releaseOnce sync.Once
	released    atomic.Bool
	releaseErr  error
}

func newStream(kind domain.MediaKind, tracks []DeviceTrack) *Stream {
	s := &Stream{
		id:     uuid.NewString(),
		kind:   kind,
		tracks: tracks,
	}
	s.audioOn.Store(true)
	s.videoOn.Store(kind.HasVideo())

	// Gates are installed once; toggling flips the flags they read.
	for _, t := range tracks {
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			if tr, ok := t.(audioTransformer); ok {
				tr.Transform(gateAudio(&s.audioOn))
			}
		case webrtc.RTPCodecTypeVideo:
			if tr, ok := t.(videoTransformer); ok {
				tr.Transform(gateVideo(&s.videoOn))
			}
		}
	}
	return s
}

func (s *Stream) ID() string             { return s.id }
func (s *Stream) Kind() domain.MediaKind { return s.kind }
func (s *Stream) AudioEnabled() bool     { return s.audioOn.Load() }
func (s *Stream) VideoEnabled() bool     { return s.videoOn.Load() }
func (s *Stream) Released() bool         { return s.released.Load() }

func (s *Stream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Stream) has(kind webrtc.RTPCodecType) bool {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func (s *Stream) release() error {
	s.releaseOnce.Do(func() {
		s.released.Store(true)
		s.releaseErr = closeTracks(s.tracks)
	})
	return s.releaseErr
}

func closeTracks(tracks []DeviceTrack) error {
	var err error
	for _, t := range tracks {
		err = multierr.Append(err, t.Close())
	}
	return err
}
