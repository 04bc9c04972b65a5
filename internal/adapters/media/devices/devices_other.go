//go:build !linux

package devices

import (
	"context"
	"errors"

	"github.com/dkeye/VoiceCall/internal/adapters/media"
	"github.com/dkeye/VoiceCall/internal/domain"
)

var errUnsupported = errors.New("device capture is only supported on linux")

// Capture reports every acquisition as DeviceNotFound on this platform.
func Capture(Options) (media.CaptureFunc, error) {
	return func(context.Context, domain.MediaKind) ([]media.DeviceTrack, error) {
		return nil, domain.NewMediaError(domain.MediaDeviceNotFound, errUnsupported)
	}, nil
}

func Enumerate() []Info { return nil }
