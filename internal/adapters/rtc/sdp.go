package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var errNoMedia = errors.New("session description has no media sections")

// validateRemote parses the remote SDP before pion applies it so malformed
// input is reported as a negotiation failure with a readable cause.
func validateRemote(desc webrtc.SessionDescription) (*sdp.SessionDescription, error) {
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(desc.SDP); err != nil {
		return nil, fmt.Errorf("parse remote %s: %w", desc.Type, err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return nil, errNoMedia
	}
	return &parsed, nil
}

// mediaKinds lists the m= lines of a parsed description, e.g. [audio video].
func mediaKinds(s *sdp.SessionDescription) []string {
	out := make([]string, 0, len(s.MediaDescriptions))
	for _, md := range s.MediaDescriptions {
		out = append(out, strings.ToLower(md.MediaName.Media))
	}
	return out
}

type codecPreferences struct {
	audio string
	video string
}

// forKind returns the codecs of the media engine matching the preferred mime
// type, in the order the engine lists them.
func (p codecPreferences) forKind(available []webrtc.RTPCodecParameters, kind webrtc.RTPCodecType) []webrtc.RTPCodecParameters {
	want := p.audio
	if kind == webrtc.RTPCodecTypeVideo {
		want = p.video
	}
	if want == "" {
		return nil
	}
	var out []webrtc.RTPCodecParameters
	for _, c := range available {
		if strings.EqualFold(c.MimeType, want) {
			out = append(out, c)
		}
	}
	return out
}
