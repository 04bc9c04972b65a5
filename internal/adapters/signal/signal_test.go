package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceCall/internal/app/relay"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	gin.SetMode(gin.TestMode)
}

func newRelay(t *testing.T, offersPerMinute int) (string, *relay.Hub) {
	t.Helper()
	return newRelayWith(t, offersPerMinute, Options{})
}

func newRelayWith(t *testing.T, offersPerMinute int, opts Options) (string, *relay.Hub) {
	t.Helper()
	hub := relay.NewHub(relay.NewRegistry(), nil, nil)
	ctl := NewSignalWSController(hub, NewCallRateLimiter(offersPerMinute, time.Minute, clock.NewMock()), opts)
	ctx, cancel := context.WithCancel(context.Background())

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub
}

func dial(t *testing.T, url string, user domain.UserID) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url+"?user="+string(user), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	hello := read(t, ws)
	require.Equal(t, wire.FrameHello, hello.Type)
	require.Equal(t, user, hello.User)
	return ws
}

func read(t *testing.T, ws *websocket.Conn) wire.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := wire.Decode(data)
	require.NoError(t, err)
	return f
}

func write(t *testing.T, ws *websocket.Conn, f wire.Frame) {
	t.Helper()
	b, err := wire.Encode(f)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

func signal(t *testing.T, typ domain.SignalType, from, to domain.UserID) wire.Frame {
	t.Helper()
	msg, err := domain.NewSignal(typ, "c1", from, to, domain.ReasonPayload{})
	require.NoError(t, err)
	return wire.NewSignal(msg)
}

func TestRelayStampsSenderAndAcks(t *testing.T) {
	url, _ := newRelay(t, 0)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")

	f := signal(t, domain.SignalEnd, "mallory", "bob")
	write(t, alice, f)

	ack := read(t, alice)
	assert.Equal(t, wire.FrameAck, ack.Type)
	assert.Equal(t, f.ID, ack.ID)

	got := read(t, bob)
	assert.Equal(t, wire.FrameSignal, got.Type)
	assert.Equal(t, f.ID, got.ID)
	require.NotNil(t, got.Signal)
	assert.Equal(t, domain.UserID("alice"), got.Signal.From)
	assert.Equal(t, domain.SignalEnd, got.Signal.Type)
}

func TestRelayNacksOfflineRecipient(t *testing.T) {
	url, _ := newRelay(t, 0)
	alice := dial(t, url, "alice")

	f := signal(t, domain.SignalOffer, "alice", "nobody")
	write(t, alice, f)

	nack := read(t, alice)
	assert.Equal(t, wire.FrameNack, nack.Type)
	assert.Equal(t, f.ID, nack.ID)
	assert.Equal(t, wire.ReasonPeerOffline, nack.Error)
}

func TestRelayRateLimitsOffers(t *testing.T) {
	url, _ := newRelay(t, 1)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")

	write(t, alice, signal(t, domain.SignalOffer, "alice", "bob"))
	assert.Equal(t, wire.FrameAck, read(t, alice).Type)
	read(t, bob)

	write(t, alice, signal(t, domain.SignalOffer, "alice", "bob"))
	nack := read(t, alice)
	assert.Equal(t, wire.FrameNack, nack.Type)
	assert.Equal(t, wire.ReasonRateLimited, nack.Error)

	write(t, alice, signal(t, domain.SignalICECandidate, "alice", "bob"))
	assert.Equal(t, wire.FrameAck, read(t, alice).Type, "only offers are limited")
}

func TestRelayRejectsBadFrames(t *testing.T) {
	url, _ := newRelay(t, 0)
	alice := dial(t, url, "alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{broken")))
	assert.Equal(t, wire.ReasonBadFrame, read(t, alice).Error)

	f := signal(t, domain.SignalEnd, "alice", "")
	write(t, alice, f)
	nack := read(t, alice)
	assert.Equal(t, f.ID, nack.ID)
	assert.Equal(t, wire.ReasonBadFrame, nack.Error)
}

func TestRelayPingPong(t *testing.T) {
	url, _ := newRelay(t, 0)
	alice := dial(t, url, "alice")
	write(t, alice, wire.Frame{Type: wire.FramePing})
	assert.Equal(t, wire.FramePong, read(t, alice).Type)

	write(t, alice, wire.Frame{Type: wire.FrameWhoAmI})
	assert.Equal(t, domain.UserID("alice"), read(t, alice).User)
}

func TestRelayKeepalivePingFollowsClock(t *testing.T) {
	mock := clock.NewMock()
	url, _ := newRelayWith(t, 0, Options{PingPeriod: 10 * time.Second, Clock: mock})
	alice := dial(t, url, "alice")

	pinged := make(chan struct{}, 1)
	alice.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, alice.SetReadDeadline(time.Time{}))
	go func() {
		for {
			if _, _, err := alice.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
		t.Fatal("ping before the period elapsed")
	case <-time.After(100 * time.Millisecond):
	}

	mock.Add(10 * time.Second)
	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive ping after the period")
	}
}

func TestRelayRequiresIdentity(t *testing.T) {
	url, _ := newRelay(t, 0)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?user=has%20space", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelayNewConnectionReplacesOld(t *testing.T) {
	url, hub := newRelay(t, 0)
	old := dial(t, url, "bob")
	fresh := dial(t, url, "bob")

	require.NoError(t, old.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := old.ReadMessage()
	assert.Error(t, err, "replaced connection is closed")

	alice := dial(t, url, "alice")
	write(t, alice, signal(t, domain.SignalEnd, "alice", "bob"))
	assert.Equal(t, wire.FrameAck, read(t, alice).Type)
	assert.Equal(t, wire.FrameSignal, read(t, fresh).Type)
	assert.Equal(t, 2, hub.Registry.Count())
}
