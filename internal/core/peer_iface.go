package core

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ConnectionState is the peer connection state reported by a PeerSession.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type PeerEventType int

const (
	PeerLocalCandidate PeerEventType = iota
	PeerLocalTrackReady
	PeerRemoteTrackReady
	PeerStateChanged
)

// TrackInfo describes a media track without exposing its owner.
type TrackInfo struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id"`
	Kind     string `json:"kind"`
	Codec    string `json:"codec,omitempty"`
}

// PeerEvent is delivered to PeerSession subscribers in order.
type PeerEvent struct {
	Type      PeerEventType
	Candidate webrtc.ICECandidateInit
	Track     TrackInfo
	State     ConnectionState
}

// PeerSession owns one peer connection: negotiation, ICE and tracks.
type PeerSession interface {
	// AttachStream adds the local tracks to the connection.
	AttachStream(s LocalStream) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	// SetRemoteDescription applies the remote offer/answer and then flushes
	// queued candidates in arrival order.
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// AddRemoteCandidate applies c, or queues it until the remote
	// description is set.
	AddRemoteCandidate(c webrtc.ICECandidateInit) error
	Subscribe(fn func(PeerEvent)) (unsubscribe func())
	// Close releases the transceivers and the connection. Safe to call
	// multiple times.
	Close()
}

type PeerFactory interface {
	NewPeerSession(id domain.CallID, kind domain.MediaKind) (PeerSession, error)
}
