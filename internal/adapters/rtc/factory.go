package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers          []webrtc.ICEServer
	ICETransportPolicy  webrtc.ICETransportPolicy
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	AudioCodec          string
	VideoCodec          string
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		ICETransportPolicy:  webrtc.ICETransportPolicyAll,
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepAliveInterval:   2 * time.Second,
		AudioCodec:          webrtc.MimeTypeOpus,
		VideoCodec:          webrtc.MimeTypeVP8,
	}
}

// Factory builds PeerSessions that share one webrtc.API.
type Factory struct {
	cfg Config
	api *webrtc.API

	mu    sync.Mutex
	conns map[domain.CallID]*Connection
}

func NewFactory(cfg Config) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{cfg: cfg, api: api, conns: make(map[domain.CallID]*Connection)}, nil
}

func (f *Factory) NewPeerSession(id domain.CallID, kind domain.MediaKind) (core.PeerSession, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         f.cfg.ICEServers,
		ICETransportPolicy: f.cfg.ICETransportPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := newConnection(id, kind, pc, f.preferences(), func() { f.forget(id) })

	f.mu.Lock()
	f.conns[id] = c
	f.mu.Unlock()
	log.Info().Str("module", "webrtc").Str("call", string(id)).Str("kind", string(kind)).Msg("peer connection created")
	return c, nil
}

// Stats returns the remote track counters of a live session.
func (f *Factory) Stats(id domain.CallID) ([]TrackStats, bool) {
	f.mu.Lock()
	c, ok := f.conns[id]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}
	return c.Stats(), true
}

func (f *Factory) forget(id domain.CallID) {
	f.mu.Lock()
	delete(f.conns, id)
	f.mu.Unlock()
}

func (f *Factory) preferences() codecPreferences {
	return codecPreferences{audio: f.cfg.AudioCodec, video: f.cfg.VideoCodec}
}
