package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/VoiceCall/internal/adapters/history"
	"github.com/dkeye/VoiceCall/internal/adapters/media"
	"github.com/dkeye/VoiceCall/internal/adapters/media/devices"
	"github.com/dkeye/VoiceCall/internal/adapters/rtc"
	"github.com/dkeye/VoiceCall/internal/adapters/signalclient"
	"github.com/dkeye/VoiceCall/internal/app/call"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/domain"
)

func main() {
	flags := pflag.NewFlagSet("softphone", pflag.ExitOnError)
	env := flags.String("env", "", "config environment, selects config/config.<env>.yaml")
	user := flags.StringP("user", "u", "", "local user id (required)")
	signalURL := flags.String("signal-url", "", "relay websocket url")
	historyPath := flags.String("history", "", "call history database path")
	_ = flags.Parse(os.Args[1:])

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *env != "" {
		_ = os.Setenv("CONFIG_ENV", *env)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	if *signalURL != "" {
		cfg.Signal.URL = *signalURL
	}
	if *historyPath != "" {
		cfg.History.Enabled = true
		cfg.History.Path = *historyPath
	}

	uid, err := domain.ParseUserID(*user)
	if err != nil {
		log.Fatal().Err(err).Msg("--user")
	}

	clk := clock.New()
	client, err := signalclient.New(signalclient.Config{
		URL:             cfg.Signal.URL,
		User:            uid,
		DeliveryTimeout: cfg.Signal.DeliveryTimeout,
		PingPeriod:      cfg.Signal.PingPeriod,
		QueueSize:       cfg.Signal.QueueSize,
		DedupSize:       cfg.Signal.DedupSize,
		ReconnectMin:    cfg.Signal.ReconnectMin,
		ReconnectMax:    cfg.Signal.ReconnectMax,
	}, clk)
	if err != nil {
		log.Fatal().Err(err).Msg("signal client")
	}

	peers, err := rtc.NewFactory(rtcConfig(cfg.ICE))
	if err != nil {
		log.Fatal().Err(err).Msg("peer factory")
	}

	capture, err := devices.Capture(devices.Options{
		MaxWidth:     cfg.Media.MaxWidth,
		MaxHeight:    cfg.Media.MaxHeight,
		VideoBitRate: cfg.Media.VideoBitRate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("media capture")
	}
	for _, d := range devices.Enumerate() {
		log.Debug().Str("module", "media").Str("kind", d.Kind).Str("label", d.Label).Msg("device")
	}

	mgr := call.NewManager(call.Deps{
		LocalUser: uid,
		Signal:    client,
		Media:     media.NewAcquirer(capture),
		Peers:     peers,
		Clock:     clk,
		Options: call.Options{
			RingTimeout:     cfg.Call.RingTimeout,
			OutgoingTimeout: cfg.Call.OutgoingTimeout,
		},
	})

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("history")
		}
		defer store.Close()
	}

	con := newConsole(os.Stdout, mgr, peers, store)
	unsub := mgr.Subscribe(con.onEvent)
	defer unsub()

	log.Info().Str("user", string(uid)).Str("relay", cfg.Signal.URL).Msg("softphone started")

	// The client outlives the console so the final end signals still go out.
	clientCtx, stopClient := context.WithCancel(context.Background())
	defer stopClient()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.Run(clientCtx)
		cancel()
		return err
	})
	g.Go(func() error {
		err := con.run(gctx, lines(os.Stdin))
		hangUp(mgr, client, clk, hangupGrace, stopClient)
		return err
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("softphone stopped")
	}
	log.Info().Msg("bye")
}

func rtcConfig(c config.ICEConfig) rtc.Config {
	out := rtc.DefaultConfig()
	if len(c.Servers) > 0 {
		out.ICEServers = out.ICEServers[:0]
		for _, s := range c.Servers {
			out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	}
	if c.TransportPolicy != "" {
		out.ICETransportPolicy = webrtc.NewICETransportPolicy(c.TransportPolicy)
	}
	setDuration(&out.DisconnectedTimeout, c.DisconnectedTimeout)
	setDuration(&out.FailedTimeout, c.FailedTimeout)
	setDuration(&out.KeepAliveInterval, c.KeepAliveInterval)
	if c.AudioCodec != "" {
		out.AudioCodec = c.AudioCodec
	}
	if c.VideoCodec != "" {
		out.VideoCodec = c.VideoCodec
	}
	return out
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
