package signal

import (
	"context"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := ctl.Opts.Clock.Ticker(ctl.Opts.PingPeriod)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, user domain.UserID, c *WsSignalConn) {
	defer func() {
		log.Debug().Str("module", "signal").Str("user", string(user)).Msg("readPump closing")
		c.Close()
	}()

	wait := 2 * ctl.Opts.PingPeriod
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(wait))
			ctl.handleFrame(user, c, data)
		}
	}
}

func (ctl *SignalWSController) handleFrame(user domain.UserID, c *WsSignalConn, data []byte) {
	f, err := wire.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("bad frame")
		ctl.sendFrame(c, wire.Nack("", err))
		return
	}

	switch f.Type {
	case wire.FrameSignal:
		ctl.handleSignalFrame(user, c, f)
	case wire.FramePing:
		ctl.handlePing(c)
	case wire.FrameWhoAmI:
		ctl.handleWhoAmI(user, c)
	default:
		log.Warn().Str("module", "signal").Str("type", string(f.Type)).Msg("unknown frame")
	}
}

// handleSignalFrame stamps the sender, applies the offer rate limit and
// routes the frame. The sender always gets an ack or a nack.
func (ctl *SignalWSController) handleSignalFrame(user domain.UserID, c *WsSignalConn, f wire.Frame) {
	msg := *f.Signal
	msg.From = user
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("invalid signal")
		ctl.sendFrame(c, wire.Nack(f.ID, wire.ErrBadFrame))
		return
	}
	if msg.Type == domain.SignalOffer && ctl.Limiter != nil && !ctl.Limiter.Allow(user) {
		log.Warn().Str("module", "signal").Str("user", string(user)).Msg("offer rate limited")
		ctl.sendFrame(c, wire.Nack(f.ID, wire.ErrRateLimited))
		return
	}
	f.Signal = &msg
	if err := ctl.Hub.Route(f); err != nil {
		log.Info().Err(err).Str("module", "signal").Str("user", string(user)).Str("sid", string(msg.SessionID)).Msg("signal not delivered")
		ctl.sendFrame(c, wire.Nack(f.ID, err))
		return
	}
	ctl.sendFrame(c, wire.Ack(f.ID))
}

func (ctl *SignalWSController) sendFrame(c *WsSignalConn, f wire.Frame) {
	b, err := wire.Encode(f)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendFrame encode")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("frame", string(f.Type)).Msg("sendFrame")
	}
}
