package relay

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry maps online users to their signal connection. A user has at most
// one connection; binding a newer one replaces and cancels the old.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.UserID]*connEntry)}
}

func (r *Registry) Bind(user domain.UserID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	old := r.conns[user]
	r.conns[user] = &connEntry{Conn: conn, Cancel: cancel}
	r.mu.Unlock()

	if old != nil {
		log.Info().Str("module", "relay.registry").Str("user", string(user)).Msg("replaced connection")
		if old.Cancel != nil {
			old.Cancel()
		}
		old.Conn.Close()
		return
	}
	log.Info().Str("module", "relay.registry").Str("user", string(user)).Msg("bound connection")
}

// Unbind removes conn if it is still the user's current connection.
func (r *Registry) Unbind(user domain.UserID, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[user]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.conns, user)
	log.Info().Str("module", "relay.registry").Str("user", string(user)).Msg("unbind connection")
	return true
}

func (r *Registry) Get(user domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[user]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel stops the pumps of the user's connection.
func (r *Registry) Cancel(user domain.UserID) bool {
	r.mu.RLock()
	e, ok := r.conns[user]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "relay.registry").Str("user", string(user)).Msg("canceled connection")
	return true
}
