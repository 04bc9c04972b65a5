package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/adapters/history"
	"github.com/dkeye/VoiceCall/internal/adapters/rtc"
	"github.com/dkeye/VoiceCall/internal/app/call"
	"github.com/dkeye/VoiceCall/internal/domain"
)

var (
	errQuit      = errors.New("quit")
	errNoCall    = errors.New("no active call")
	errUsage     = errors.New("usage")
	errNoHistory = errors.New("history disabled")
)

type command struct {
	name  string
	peer  domain.UserID
	kind  domain.MediaKind
	limit int
}

const helpText = `commands:
  call <peer> [video]  start a call, audio only unless "video"
  accept | reject      answer or decline the ringing call
  end                  hang up
  mute | video         toggle microphone or camera
  status | stats       current call and its media counters
  history [n]          last n finished calls
  quit`

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	cmd := command{name: strings.ToLower(fields[0])}
	args := fields[1:]
	switch cmd.name {
	case "call":
		if len(args) == 0 || len(args) > 2 {
			return cmd, fmt.Errorf("%w: call <peer> [video]", errUsage)
		}
		peer, err := domain.ParseUserID(args[0])
		if err != nil {
			return cmd, err
		}
		cmd.peer, cmd.kind = peer, domain.MediaAudio
		if len(args) == 2 {
			if !strings.EqualFold(args[1], "video") {
				return cmd, fmt.Errorf("%w: call <peer> [video]", errUsage)
			}
			cmd.kind = domain.MediaAudioVideo
		}
	case "history":
		cmd.limit = 10
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return cmd, fmt.Errorf("%w: history [n]", errUsage)
			}
			cmd.limit = n
		}
	case "exit":
		cmd.name = "quit"
	case "accept", "reject", "end", "hangup", "mute", "video", "status", "stats", "help", "quit":
		if cmd.name == "hangup" {
			cmd.name = "end"
		}
	default:
		return cmd, fmt.Errorf("unknown command %q, try help", cmd.name)
	}
	return cmd, nil
}

// console is the line-oriented UI of the softphone.
type console struct {
	mu  sync.Mutex
	out io.Writer

	mgr   *call.Manager
	peers *rtc.Factory
	store *history.Store
}

func newConsole(out io.Writer, mgr *call.Manager, peers *rtc.Factory, store *history.Store) *console {
	return &console{out: out, mgr: mgr, peers: peers, store: store}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func lines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

func (c *console) run(ctx context.Context, in <-chan string) error {
	c.printf("%s", helpText)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-in:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				c.printf("! %v", err)
				continue
			}
			if cmd.name == "" {
				continue
			}
			if err := c.exec(ctx, cmd); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("! %v", err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "help":
		c.printf("%s", helpText)
		return nil
	case "quit":
		return errQuit
	case "call":
		// Acquisition may wait on the devices; keep the prompt responsive.
		go func() {
			if _, err := c.mgr.StartCall(ctx, cmd.peer, cmd.kind); err != nil {
				c.printf("! call %s: %s", cmd.peer, describe(err))
			}
		}()
		return nil
	case "history":
		return c.history(ctx, cmd.limit)
	}

	ctl, ok := c.mgr.Active()
	if !ok {
		if cmd.name == "status" {
			c.printf("idle")
			return nil
		}
		return errNoCall
	}
	switch cmd.name {
	case "accept":
		go func() {
			if err := ctl.Accept(ctx); err != nil {
				c.printf("! accept: %s", describe(err))
			}
		}()
	case "reject":
		return ctl.Reject()
	case "end":
		return ctl.End()
	case "mute":
		muted, err := ctl.ToggleMute()
		if err != nil {
			return err
		}
		c.printf("microphone %s", onOff(!muted))
	case "video":
		suspended, err := ctl.ToggleVideo()
		if err != nil {
			return err
		}
		c.printf("camera %s", onOff(!suspended))
	case "status":
		c.printf("%s", formatSession(ctl.Session()))
	case "stats":
		stats, _ := c.peers.Stats(ctl.ID())
		if len(stats) == 0 {
			c.printf("no remote media yet")
		}
		for _, s := range stats {
			c.printf("%-5s %-12s packets=%d bytes=%d lost=%d", s.Kind, s.Codec, s.Packets, s.Bytes, s.Lost)
		}
	}
	return nil
}

func (c *console) history(ctx context.Context, limit int) error {
	if c.store == nil {
		return errNoHistory
	}
	recs, err := c.store.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		c.printf("no calls yet")
	}
	for _, r := range recs {
		c.printf("%s", formatRecord(r))
	}
	return nil
}

func (c *console) onEvent(ev call.Event) {
	s := ev.Session
	switch ev.Type {
	case call.EventRinging:
		if s.Role == domain.RoleCallee {
			c.printf("* incoming %s call from %s (accept / reject)", s.Kind, s.PeerID)
		} else {
			c.printf("* calling %s ...", s.PeerID)
		}
	case call.EventConnected:
		c.printf("* connected with %s", s.PeerID)
	case call.EventRemoteStreamAttached:
		c.printf("* receiving %s from %s", ev.Track.Kind, s.PeerID)
	case call.EventRemoteMediaState:
		c.printf("* %s: microphone %s, camera %s", s.PeerID, onOff(!s.RemoteMuted), onOff(!s.RemoteVideoSuspended))
	case call.EventError:
		if ev.Err != nil {
			c.printf("! %s", ev.Err.Message())
		}
	case call.EventEnded:
		c.printf("* call with %s %s (%s)", s.PeerID, s.State, s.Reason)
		if c.store != nil {
			c.store.Observe(s)
		}
	}
}

func describe(err error) string {
	var ce *domain.CallError
	if errors.As(err, &ce) {
		return ce.Message()
	}
	return err.Error()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func formatSession(s domain.CallSession) string {
	line := fmt.Sprintf("%s %s %s with %s", s.ID, s.State, s.Kind, s.PeerID)
	if !s.ConnectedAt.IsZero() {
		line += fmt.Sprintf(" for %s", time.Since(s.ConnectedAt).Truncate(time.Second))
	}
	if s.Muted {
		line += " [muted]"
	}
	if s.VideoSuspended {
		line += " [camera off]"
	}
	return line
}

func formatRecord(r history.Record) string {
	dir := "->"
	if r.Role == domain.RoleCallee {
		dir = "<-"
	}
	line := fmt.Sprintf("%s %s %-10s %-11s %-8s %s", r.StartedAt.Format(time.DateTime), dir, r.PeerID, r.Kind, r.State, r.Reason)
	if r.Duration > 0 {
		line += " " + r.Duration.Truncate(time.Second).String()
	}
	if r.ErrorKind != "" {
		line += " (" + r.ErrorKind + ")"
	}
	return line
}
