package domain

import (
	"errors"
	"fmt"
)

// Command errors.
var (
	// ErrNotApplicable is returned by toggle commands outside negotiating/connected.
	ErrNotApplicable = errors.New("command not applicable in current state")

	// ErrInvalidTransition is returned when a command is issued in a state that
	// has no edge for it.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCallEnded is returned by an in-flight command whose session was torn
	// down while it was waiting.
	ErrCallEnded = errors.New("call already ended")
)

// Media acquisition errors.
var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceNotFound   = errors.New("media device not found")
	ErrDeviceInUse      = errors.New("media device in use")
	ErrMediaUnknown     = errors.New("media acquisition failed")
)

// ErrorKind classifies terminal call errors. All kinds are terminal for the
// session they happen in and none is retried automatically.
type ErrorKind int

const (
	KindMediaUnavailable ErrorKind = iota + 1
	KindConcurrentCallRejected
	KindNegotiationFailed
	KindSignalingUnavailable
	KindPeerConnectionFailed
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindMediaUnavailable:
		return "MediaUnavailable"
	case KindConcurrentCallRejected:
		return "ConcurrentCallRejected"
	case KindNegotiationFailed:
		return "NegotiationFailed"
	case KindSignalingUnavailable:
		return "SignalingUnavailable"
	case KindPeerConnectionFailed:
		return "PeerConnectionFailed"
	case KindTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// CallError carries a classification plus the underlying cause.
type CallError struct {
	Kind ErrorKind
	Err  error
}

func NewCallError(kind ErrorKind, err error) *CallError {
	return &CallError{Kind: kind, Err: err}
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

// Is matches another *CallError by kind, so errors.Is(err, &CallError{Kind: k}) works.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message is the human readable cause shown by the UI.
func (e *CallError) Message() string {
	switch e.Kind {
	case KindMediaUnavailable:
		var me *MediaError
		if errors.As(e.Err, &me) {
			return me.Failure.Message()
		}
		return "camera or microphone unavailable"
	case KindConcurrentCallRejected:
		return "another call is already in progress"
	case KindNegotiationFailed:
		return "could not agree on call settings with the other party"
	case KindSignalingUnavailable:
		return "could not reach the other party"
	case KindPeerConnectionFailed:
		return "call failed: connection lost"
	case KindTimeout:
		return "no answer"
	default:
		return "call failed"
	}
}

// KindOf extracts the ErrorKind from err, zero if err is not a *CallError.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// MediaFailure is the device acquisition failure taxonomy.
type MediaFailure int

const (
	MediaUnknown MediaFailure = iota
	MediaPermissionDenied
	MediaDeviceNotFound
	MediaDeviceInUse
)

func (f MediaFailure) String() string {
	switch f {
	case MediaPermissionDenied:
		return "PermissionDenied"
	case MediaDeviceNotFound:
		return "DeviceNotFound"
	case MediaDeviceInUse:
		return "DeviceInUse"
	default:
		return "Unknown"
	}
}

func (f MediaFailure) Message() string {
	switch f {
	case MediaPermissionDenied:
		return "camera or microphone access denied"
	case MediaDeviceNotFound:
		return "no camera or microphone found"
	case MediaDeviceInUse:
		return "camera or microphone is used by another application"
	default:
		return "camera or microphone unavailable"
	}
}

func (f MediaFailure) sentinel() error {
	switch f {
	case MediaPermissionDenied:
		return ErrPermissionDenied
	case MediaDeviceNotFound:
		return ErrDeviceNotFound
	case MediaDeviceInUse:
		return ErrDeviceInUse
	default:
		return ErrMediaUnknown
	}
}

// MediaError is returned by media acquisition.
type MediaError struct {
	Failure MediaFailure
	Err     error
}

func NewMediaError(f MediaFailure, err error) *MediaError {
	return &MediaError{Failure: f, Err: err}
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return e.Failure.sentinel().Error()
	}
	return e.Failure.sentinel().Error() + ": " + e.Err.Error()
}

func (e *MediaError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Failure.sentinel()}
	}
	return []error{e.Failure.sentinel(), e.Err}
}
