package call

import (
	"sync/atomic"
	"testing"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySingleSlotUnderContention(t *testing.T) {
	r := NewRegistry()
	var won atomic.Int32
	var built atomic.Int32

	var wg conc.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Go(func() {
			_, err := r.TryAcquire(alice, func() *Controller {
				built.Add(1)
				return newController(Deps{LocalUser: alice}, domain.RoleCaller, "c")
			})
			if err == nil {
				won.Add(1)
				return
			}
			assert.Equal(t, domain.KindConcurrentCallRejected, domain.KindOf(err))
		})
	}
	wg.Wait()

	assert.EqualValues(t, 1, won.Load())
	assert.EqualValues(t, 1, built.Load())
}

func TestRegistryReleaseIgnoresStaleController(t *testing.T) {
	r := NewRegistry()
	first, err := r.TryAcquire(alice, func() *Controller {
		return newController(Deps{LocalUser: alice}, domain.RoleCaller, "one")
	})
	require.NoError(t, err)
	r.Release(alice, first)

	second, err := r.TryAcquire(alice, func() *Controller {
		return newController(Deps{LocalUser: alice}, domain.RoleCaller, "two")
	})
	require.NoError(t, err)

	r.Release(alice, first)
	cur, ok := r.Active(alice)
	require.True(t, ok)
	assert.Same(t, second, cur)

	_, ok = r.Active(bob)
	assert.False(t, ok)
}
