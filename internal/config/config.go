package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "VOICECALL"

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	Secret     string `mapstructure:"secret"`
	LogLevel   string `mapstructure:"log_level"`

	Signal  SignalConfig  `mapstructure:"signal"`
	Call    CallConfig    `mapstructure:"call"`
	ICE     ICEConfig     `mapstructure:"ice"`
	Media   MediaConfig   `mapstructure:"media"`
	History HistoryConfig `mapstructure:"history"`
}

// SignalConfig covers both ends of the signaling channel: the relay server
// and the softphone client.
type SignalConfig struct {
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	Policy        string        `mapstructure:"policy"`
	OfferLimit    int           `mapstructure:"offer_limit"`
	OfferInterval time.Duration `mapstructure:"offer_interval"`

	URL             string        `mapstructure:"url"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	QueueSize       int           `mapstructure:"queue_size"`
	DedupSize       int           `mapstructure:"dedup_size"`
	ReconnectMin    time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax    time.Duration `mapstructure:"reconnect_max"`
}

type CallConfig struct {
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
	// OutgoingTimeout of zero waits for the callee forever.
	OutgoingTimeout time.Duration `mapstructure:"outgoing_timeout"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type ICEConfig struct {
	Servers             []ICEServer   `mapstructure:"servers"`
	TransportPolicy     string        `mapstructure:"transport_policy"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
	KeepAliveInterval   time.Duration `mapstructure:"keepalive_interval"`
	AudioCodec          string        `mapstructure:"audio_codec"`
	VideoCodec          string        `mapstructure:"video_codec"`
}

type MediaConfig struct {
	MaxWidth     int `mapstructure:"max_width"`
	MaxHeight    int `mapstructure:"max_height"`
	VideoBitRate int `mapstructure:"video_bitrate"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("signal.read_limit", 32768)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.policy", "drop")
	v.SetDefault("signal.offer_limit", 10)
	v.SetDefault("signal.offer_interval", "1m")
	v.SetDefault("signal.url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("signal.delivery_timeout", "10s")
	v.SetDefault("signal.queue_size", 256)
	v.SetDefault("signal.dedup_size", 1024)
	v.SetDefault("signal.reconnect_min", "500ms")
	v.SetDefault("signal.reconnect_max", "30s")

	v.SetDefault("call.ring_timeout", "30s")
	v.SetDefault("call.outgoing_timeout", "45s")

	v.SetDefault("ice.servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("ice.transport_policy", "all")
	v.SetDefault("ice.disconnected_timeout", "5s")
	v.SetDefault("ice.failed_timeout", "25s")
	v.SetDefault("ice.keepalive_interval", "2s")
	v.SetDefault("ice.audio_codec", "audio/opus")
	v.SetDefault("ice.video_codec", "video/VP8")

	v.SetDefault("media.max_width", 640)
	v.SetDefault("media.max_height", 480)
	v.SetDefault("media.video_bitrate", 1_500_000)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "voicecall-history.db")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev when unset) on top of the
// defaults. VOICECALL_* environment variables override both, with nested
// keys joined by underscores (VOICECALL_CALL_RING_TIMEOUT).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}
