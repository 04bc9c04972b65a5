package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceCall/internal/app/relay"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrBackpressure = relay.ErrBackpressure

var errConnClosed = errors.New("connection closed")

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// Clock drives the keepalive pings. Nil means the wall clock.
	Clock clock.Clock
}

type SignalWSController struct {
	Hub     *relay.Hub
	Limiter *CallRateLimiter
	Opts    Options
}

func NewSignalWSController(hub *relay.Hub, limiter *CallRateLimiter, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &SignalWSController{Hub: hub, Limiter: limiter, Opts: opts}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// identity resolves the caller: an explicit ?user= wins over the client
// token cookie.
func identity(c *gin.Context) (domain.UserID, error) {
	if raw := c.Query("user"); raw != "" {
		return domain.ParseUserID(raw)
	}
	return domain.ParseUserID(c.GetString("client_token"))
}

// HandleSignal upgrades the request and serves the connection until either
// pump stops, the server shuts down or a newer connection of the same user
// replaces it.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := identity(c)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rejecting ws connection")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("module", "signal").Str("user", string(user)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.Opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Opts.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctl.Hub.Connect(user, conn, cancel)
	ctl.handleWhoAmI(user, conn)

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(ctx, conn) })
	wg.Go(func() { ctl.readPump(ctx, user, conn) })
	wg.Wait()

	ctl.Hub.Disconnect(user, conn)
	log.Info().Str("module", "signal").Str("user", string(user)).Msg("WS connection closed")
}
