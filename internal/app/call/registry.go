package call

import (
	"errors"
	"sync"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog/log"
)

var errSlotTaken = errors.New("local user already has an active call")

// Registry tracks at most one active Controller per local user. It is meant
// to be injected; tests create as many as they need.
type Registry struct {
	mu     sync.Mutex
	active map[domain.UserID]*Controller
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[domain.UserID]*Controller)}
}

// TryAcquire atomically checks the slot of user and, if it is free, stores
// the controller returned by build. A taken slot yields a
// KindConcurrentCallRejected error and build is not called.
func (r *Registry) TryAcquire(user domain.UserID, build func() *Controller) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[user]; ok {
		log.Info().Str("module", "call.registry").Str("user", string(user)).Str("active", string(cur.ID())).Msg("concurrent call rejected")
		return nil, domain.NewCallError(domain.KindConcurrentCallRejected, errSlotTaken)
	}
	c := build()
	r.active[user] = c
	log.Debug().Str("module", "call.registry").Str("user", string(user)).Str("call", string(c.ID())).Msg("slot acquired")
	return c, nil
}

// Release frees the slot if it is still held by c. Controllers call it once,
// when they reach a terminal state.
func (r *Registry) Release(user domain.UserID, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[user]; ok && cur == c {
		delete(r.active, user)
		log.Debug().Str("module", "call.registry").Str("user", string(user)).Str("call", string(c.ID())).Msg("slot released")
	}
}

func (r *Registry) Active(user domain.UserID) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.active[user]
	return c, ok
}
