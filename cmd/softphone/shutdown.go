package main

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

const (
	hangupGrace = 2 * time.Second
	drainPoll   = 20 * time.Millisecond
)

type callCloser interface {
	Close()
}

type signalQueue interface {
	Pending() int
}

// hangUp ends every call while the signal channel still runs, waits up to
// grace for the resulting signals to be acknowledged, then calls stop.
func hangUp(calls callCloser, sig signalQueue, clk clock.Clock, grace time.Duration, stop func()) {
	defer stop()
	calls.Close()

	deadline := clk.Timer(grace)
	defer deadline.Stop()
	tick := clk.Ticker(drainPoll)
	defer tick.Stop()
	for sig.Pending() > 0 {
		select {
		case <-deadline.C:
			log.Warn().Str("module", "softphone").Int("pending", sig.Pending()).Msg("signals not acknowledged before exit")
			return
		case <-tick.C:
		}
	}
}
