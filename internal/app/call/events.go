package call

import (
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

// EventType is what the UI layer observes.
type EventType string

const (
	EventRinging              EventType = "ringing"
	EventConnected            EventType = "connected"
	EventEnded                EventType = "ended"
	EventError                EventType = "error"
	EventRemoteStreamAttached EventType = "remote_stream_attached"
	EventLocalStreamAttached  EventType = "local_stream_attached"
	EventRemoteMediaState     EventType = "remote_media_state"
)

// Event carries a snapshot of the session at the time it was emitted.
type Event struct {
	Type    EventType
	Session domain.CallSession
	Err     *domain.CallError
	Track   core.TrackInfo
}
