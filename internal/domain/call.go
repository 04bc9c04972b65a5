package domain

import (
	"fmt"
	"time"
)

// CallID is the opaque identifier of one call attempt, generated by the caller.
type CallID string

type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// MediaKind is fixed when the session is created.
type MediaKind string

const (
	MediaAudio      MediaKind = "audio"
	MediaAudioVideo MediaKind = "audio+video"
)

func (k MediaKind) HasVideo() bool { return k == MediaAudioVideo }

func (k MediaKind) Valid() bool { return k == MediaAudio || k == MediaAudioVideo }

// State is a CallController state.
type State int

const (
	StateIdle State = iota
	StateOutgoingRinging
	StateIncomingRinging
	StateNegotiating
	StateConnected
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoingRinging:
		return "outgoing_ringing"
	case StateIncomingRinging:
		return "incoming_ringing"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal returns true for ended and failed.
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateFailed
}

// CanTransition reports whether to is reachable from s in one step.
// The graph only moves forward; failed is reachable from every non-idle,
// non-terminal state.
func (s State) CanTransition(to State) bool {
	switch s {
	case StateIdle:
		return to == StateOutgoingRinging || to == StateIncomingRinging || to == StateEnded
	case StateOutgoingRinging, StateIncomingRinging:
		return to == StateNegotiating || to == StateEnded || to == StateFailed
	case StateNegotiating:
		return to == StateConnected || to == StateEnded || to == StateFailed
	case StateConnected:
		return to == StateEnded || to == StateFailed
	default:
		return false
	}
}

// EndReason tells why a session reached a terminal state.
type EndReason string

const (
	ReasonNone           EndReason = ""
	ReasonHangup         EndReason = "hangup"
	ReasonRemoteHangup   EndReason = "remote_hangup"
	ReasonDeclined       EndReason = "declined"
	ReasonRemoteDeclined EndReason = "remote_declined"
	ReasonBusy           EndReason = "busy"
	ReasonTimeout        EndReason = "timeout"
	ReasonCancelled      EndReason = "cancelled"
	ReasonFailed         EndReason = "failed"
)

// CallSession is the unit of a single call attempt. It is mutated only by the
// call controller; everything else works on copies.
type CallSession struct {
	ID     CallID    `json:"id"`
	Role   Role      `json:"role"`
	PeerID UserID    `json:"peer_id"`
	Kind   MediaKind `json:"kind"`
	State  State     `json:"state"`

	StartedAt   time.Time `json:"started_at"`
	ConnectedAt time.Time `json:"connected_at"`
	EndedAt     time.Time `json:"ended_at"`

	Muted          bool `json:"muted"`
	VideoSuspended bool `json:"video_suspended"`

	RemoteMuted          bool `json:"remote_muted"`
	RemoteVideoSuspended bool `json:"remote_video_suspended"`

	Reason EndReason  `json:"reason,omitempty"`
	Err    *CallError `json:"-"`
}

// Duration is the connected time, zero if the call never connected.
func (s CallSession) Duration() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		return 0
	}
	return end.Sub(s.ConnectedAt)
}
