package core

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// LocalStream is a handle to captured local media. It is owned by the
// MediaAcquirer; everyone else only holds the reference.
type LocalStream interface {
	ID() string
	Kind() domain.MediaKind
	// Tracks returns the tracks to attach to a peer connection.
	Tracks() []webrtc.TrackLocal
	AudioEnabled() bool
	VideoEnabled() bool
	Released() bool
}

type MediaAcquirer interface {
	// Acquire requests the microphone, and the camera when kind has video.
	// Failures are *domain.MediaError.
	Acquire(ctx context.Context, kind domain.MediaKind) (LocalStream, error)
	// Release stops all tracks. Safe on an already released stream.
	Release(LocalStream)
	// SetAudioEnabled and SetVideoEnabled act on the existing tracks and never
	// reacquire a device.
	SetAudioEnabled(s LocalStream, enabled bool) error
	SetVideoEnabled(s LocalStream, enabled bool) error
}
