//go:build linux

// Package devices captures the local camera and microphone with
// pion/mediadevices (V4L2 and malgo drivers).
package devices

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/adapters/media"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"
)

// Capture returns a media.CaptureFunc that opens real devices. The encoders
// are VP8 and Opus, which the peer connection registers by default.
func Capture(opts Options) (media.CaptureFunc, error) {
	opts = opts.withDefaults()

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = opts.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	return func(_ context.Context, kind domain.MediaKind) ([]media.DeviceTrack, error) {
		constraints := mediadevices.MediaStreamConstraints{
			Codec: selector,
			Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		}
		if kind.HasVideo() {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes on some cameras produce frames the VP8 encoder rejects.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: opts.MaxWidth}
				c.Height = prop.IntRanged{Max: opts.MaxHeight}
			}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			return nil, err
		}
		var out []media.DeviceTrack
		for _, t := range stream.GetTracks() {
			id := t.ID()
			t.OnEnded(func(err error) {
				if err != nil {
					log.Warn().Str("module", "media").Str("track", id).Err(err).Msg("local track ended")
				}
			})
			out = append(out, t)
		}
		return out, nil
	}, nil
}

// Enumerate lists the devices the drivers can see.
func Enumerate() []Info {
	var out []Info
	for _, d := range mediadevices.EnumerateDevices() {
		out = append(out, Info{ID: d.DeviceID, Kind: fmt.Sprint(d.Kind), Label: d.Label})
	}
	return out
}
