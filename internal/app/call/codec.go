package call

import (
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

func descriptionPayload(desc webrtc.SessionDescription, kind domain.MediaKind) domain.DescriptionPayload {
	return domain.DescriptionPayload{SDPType: desc.Type.String(), SDP: desc.SDP, Kind: kind}
}

// decodeDescription extracts a session description of type want from msg.
func decodeDescription(msg domain.SignalMessage, want webrtc.SDPType) (webrtc.SessionDescription, domain.MediaKind, error) {
	var p domain.DescriptionPayload
	if err := msg.Decode(&p); err != nil {
		return webrtc.SessionDescription{}, "", err
	}
	if t := webrtc.NewSDPType(p.SDPType); t != want {
		return webrtc.SessionDescription{}, "", fmt.Errorf("%w: expected %s, got %q", domain.ErrBadSignal, want, p.SDPType)
	}
	if p.SDP == "" {
		return webrtc.SessionDescription{}, "", fmt.Errorf("%w: empty sdp", domain.ErrBadSignal)
	}
	return webrtc.SessionDescription{Type: want, SDP: p.SDP}, p.Kind, nil
}

func decodeCandidate(msg domain.SignalMessage) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := msg.Decode(&c); err != nil {
		return c, err
	}
	if c.Candidate == "" {
		return c, fmt.Errorf("%w: empty candidate", domain.ErrBadSignal)
	}
	return c, nil
}
