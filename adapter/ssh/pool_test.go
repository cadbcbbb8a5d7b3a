package ssh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/xrun/events"
)

func TestPool_AcquireReusesIdleConnection(t *testing.T) {
	srv := startTestServer(t)
	pool := NewPool()
	defer pool.CloseAll()
	cfg := testConfig(srv)

	pc1, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	pool.Release(pc1, false)

	pc2, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	require.Same(t, pc1, pc2)
}

func TestPool_AcquireDialsNewWhenNoneIdle(t *testing.T) {
	srv := startTestServer(t)
	pool := NewPool()
	defer pool.CloseAll()
	cfg := testConfig(srv)

	pc1, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	pc2, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	require.NotSame(t, pc1, pc2)

	pool.Release(pc1, false)
	pool.Release(pc2, false)
}

func TestPool_AcquireWaitsForSlotAtMaxSize(t *testing.T) {
	srv := startTestServer(t)
	pool := NewPool(WithMaxSize(1), WithAcquireTimeout(500*time.Millisecond))
	defer pool.CloseAll()
	cfg := testConfig(srv)

	pc1, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		pool.Release(pc1, false)
		close(released)
	}()

	pc2, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	require.Same(t, pc1, pc2)
	<-released
	pool.Release(pc2, false)
}

func TestPool_AcquireTimesOutWhenExhausted(t *testing.T) {
	srv := startTestServer(t)
	pool := NewPool(WithMaxSize(1), WithAcquireTimeout(100*time.Millisecond))
	defer pool.CloseAll()
	cfg := testConfig(srv)

	pc1, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	defer pool.Release(pc1, false)

	_, err = pool.Acquire(context.Background(), cfg)
	require.Error(t, err)
}

func TestPool_ReleaseWithDestroyClosesConnection(t *testing.T) {
	srv := startTestServer(t)
	pool := NewPool()
	defer pool.CloseAll()
	cfg := testConfig(srv)

	pc1, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	pool.Release(pc1, true)

	require.False(t, alive(pc1.client))

	pc2, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	require.NotSame(t, pc1, pc2)
	pool.Release(pc2, false)
}

func TestPool_CloseAllClosesIdleAndInUse(t *testing.T) {
	srv := startTestServer(t)
	pool := NewPool()
	cfg := testConfig(srv)

	idle, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	pool.Release(idle, false)

	inUse, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, pool.CloseAll())
	require.False(t, alive(idle.client))
	require.False(t, alive(inUse.client))
}

func TestPool_EvictIdleClosesConnectionsPastTimeout(t *testing.T) {
	srv := startTestServer(t)
	pool := NewPool(WithIdleTimeout(0)) // disable background sweeper, drive evictIdle manually
	defer pool.CloseAll()
	cfg := testConfig(srv)

	pc, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	pool.Release(pc, false)
	pc.lastUsed = time.Now().Add(-time.Hour)

	pool.idleTimeout = time.Minute
	pool.evictIdle()

	require.False(t, alive(pc.client))
	require.Equal(t, 0, len(pool.idle[cfg.key()]))
}

func TestPool_PublishesConnectionLifecycleEvents(t *testing.T) {
	srv := startTestServer(t)
	bus := events.New()
	var names []string
	bus.On("*", func(e events.Event) { names = append(names, e.Name) })

	pool := NewPool(WithPoolEvents(bus))
	cfg := testConfig(srv)

	pc, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	pool.Release(pc, true)

	require.Contains(t, names, "connection:open")
	require.Contains(t, names, "connection:close")
}
