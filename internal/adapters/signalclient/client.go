// Package signalclient implements core.SignalChannel over the relay's
// WebSocket endpoint.
package signalclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/wire"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDeliveryTimeout = errors.New("signal not acknowledged in time")
	ErrQueueFull       = errors.New("signal queue full")
	ErrClosed          = errors.New("signal channel closed")
)

type Config struct {
	URL  string
	User domain.UserID

	DeliveryTimeout time.Duration
	PingPeriod      time.Duration
	QueueSize       int
	DedupSize       int
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
}

func (c Config) withDefaults() Config {
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 25 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DedupSize <= 0 {
		c.DedupSize = 1024
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 500 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	return c
}

type outbound struct {
	frame    wire.Frame
	queuedAt time.Time
	sentGen  uint64
}

// delivery is either an inbound message or a send failure, handed to
// listeners from the dispatch goroutine in arrival order.
type delivery struct {
	msg *domain.SignalMessage
	err *core.SendError
}

// Client keeps unacknowledged messages queued across reconnects. Listeners are
// never called from Send or from the network goroutines.
type Client struct {
	cfg    Config
	clock  clock.Clock
	dialer *websocket.Dialer
	log    zerolog.Logger

	msgs core.Subscribers[domain.SignalMessage]
	errs core.Subscribers[*core.SendError]
	seen *lru.Cache[string, struct{}]

	wake    chan struct{}
	deliver chan struct{}

	mu        sync.Mutex
	pending   []*outbound
	inbox     []delivery
	gen       uint64
	connected bool
	closed    bool
}

func New(cfg Config, clk clock.Clock) (*Client, error) {
	cfg = cfg.withDefaults()
	if _, err := url.Parse(cfg.URL); err != nil || cfg.URL == "" {
		return nil, fmt.Errorf("signal url %q: invalid", cfg.URL)
	}
	if clk == nil {
		clk = clock.New()
	}
	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		clock:   clk,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log.With().Str("module", "signalclient").Str("user", string(cfg.User)).Logger(),
		seen:    seen,
		wake:    make(chan struct{}, 1),
		deliver: make(chan struct{}, 1),
	}, nil
}

func (c *Client) OnMessage(fn func(domain.SignalMessage)) func() { return c.msgs.Subscribe(fn) }

func (c *Client) OnError(fn func(*core.SendError)) func() { return c.errs.Subscribe(fn) }

// Send queues msg. It never blocks; failures arrive through OnError.
func (c *Client) Send(msg domain.SignalMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		c.failLocked(msg, ErrClosed)
		return
	case len(c.pending) >= c.cfg.QueueSize:
		c.failLocked(msg, ErrQueueFull)
		return
	}
	c.pending = append(c.pending, &outbound{frame: wire.NewSignal(msg), queuedAt: c.clock.Now()})
	notify(c.wake)
}

// Connected reports whether a relay connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Pending is the number of messages waiting for an ack.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Run connects and keeps the connection up until ctx is done. It returns nil
// on cancellation.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.dispatchLoop(ctx) })
	g.Go(func() error { return c.expireLoop(ctx) })
	g.Go(func() error { return c.connectLoop(ctx) })
	err := g.Wait()

	c.mu.Lock()
	c.closed = true
	dropped := len(c.pending)
	c.pending = nil
	c.mu.Unlock()
	c.log.Info().Int("dropped", dropped).Msg("signal client stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) connectLoop(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectMin
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	for {
		ws, err := backoff.RetryNotifyWithData(func() (*websocket.Conn, error) {
			return c.dial(ctx)
		}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
			c.log.Warn().Err(err).Dur("retry_in", next).Msg("relay unreachable")
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		b.Reset()

		err = c.serve(ctx, ws)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("relay connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	q := u.Query()
	q.Set("user", string(c.cfg.User))
	u.RawQuery = q.Encode()

	ws, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			return nil, backoff.Permanent(fmt.Errorf("relay refused identity: %w", err))
		}
		return nil, err
	}
	return ws, nil
}

// serve runs one connection. Every queued message not yet written on this
// connection is (re)sent in order.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.connected = true
	resend := len(c.pending)
	c.mu.Unlock()
	c.log.Info().Int("queued", resend).Msg("relay connected")
	notify(c.wake)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = ws.Close()
		return nil
	})
	g.Go(func() error { return c.readLoop(ws) })
	g.Go(func() error { return c.writeLoop(gctx, ws, gen) })
	err := g.Wait()

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return err
}

func (c *Client) writeLoop(ctx context.Context, ws *websocket.Conn, gen uint64) error {
	ticker := c.clock.Ticker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		for {
			f, ok := c.nextUnsent(gen)
			if !ok {
				break
			}
			if err := c.write(ws, f); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		case <-ticker.C:
			if err := c.write(ws, wire.Frame{Type: wire.FramePing}); err != nil {
				return err
			}
		}
	}
}

func (c *Client) write(ws *websocket.Conn, f wire.Frame) error {
	b, err := wire.Encode(f)
	if err != nil {
		return err
	}
	if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) nextUnsent(gen uint64) (wire.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.pending {
		if o.sentGen != gen {
			o.sentGen = gen
			return o.frame, true
		}
	}
	return wire.Frame{}, false
}

func (c *Client) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		f, err := wire.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("bad frame from relay")
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f wire.Frame) {
	switch f.Type {
	case wire.FrameSignal:
		if ok, _ := c.seen.ContainsOrAdd(f.ID, struct{}{}); ok {
			c.log.Debug().Str("id", f.ID).Msg("duplicate frame dropped")
			return
		}
		c.push(delivery{msg: f.Signal})
	case wire.FrameAck:
		c.take(f.ID)
	case wire.FrameNack:
		if o := c.take(f.ID); o != nil {
			c.log.Info().Str("reason", f.Error).Str("type", string(o.frame.Signal.Type)).Msg("signal refused by relay")
			c.push(delivery{err: &core.SendError{Message: *o.frame.Signal, Err: wire.ErrorOf(f.Error)}})
		}
	case wire.FrameHello:
		if f.User != c.cfg.User {
			c.log.Warn().Str("relay_user", string(f.User)).Msg("relay identity mismatch")
		}
	case wire.FramePong:
	default:
		c.log.Debug().Str("type", string(f.Type)).Msg("unknown frame")
	}
}

// take removes the pending message with id.
func (c *Client) take(id string) *outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.pending {
		if o.frame.ID == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return o
		}
	}
	return nil
}

func (c *Client) push(d delivery) {
	c.mu.Lock()
	c.inbox = append(c.inbox, d)
	c.mu.Unlock()
	notify(c.deliver)
}

func (c *Client) failLocked(msg domain.SignalMessage, err error) {
	c.inbox = append(c.inbox, delivery{err: &core.SendError{Message: msg, Err: err}})
	notify(c.deliver)
}

func (c *Client) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.deliver:
		}
		c.mu.Lock()
		batch := c.inbox
		c.inbox = nil
		c.mu.Unlock()
		for _, d := range batch {
			if d.msg != nil {
				c.msgs.Emit(*d.msg)
			} else {
				c.errs.Emit(d.err)
			}
		}
	}
}

// expireLoop fails messages that stayed unacknowledged past DeliveryTimeout.
func (c *Client) expireLoop(ctx context.Context) error {
	ticker := c.clock.Ticker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		c.mu.Lock()
		now := c.clock.Now()
		kept := c.pending[:0]
		for _, o := range c.pending {
			if now.Sub(o.queuedAt) >= c.cfg.DeliveryTimeout {
				c.log.Warn().Str("type", string(o.frame.Signal.Type)).Str("sid", string(o.frame.Signal.SessionID)).Msg("signal delivery timed out")
				c.inbox = append(c.inbox, delivery{err: &core.SendError{Message: *o.frame.Signal, Err: ErrDeliveryTimeout}})
				continue
			}
			kept = append(kept, o)
		}
		c.pending = kept
		c.mu.Unlock()
		notify(c.deliver)
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
