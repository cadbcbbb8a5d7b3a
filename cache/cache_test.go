package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/xrun/command"
)

func TestCache_SetGetRoundTrip(t *testing.T) {
	c := New()
	res := command.Result{ExitCode: 0, Stdout: []byte("hi")}

	require.NoError(t, c.Set("k", res, time.Minute))

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, res.ExitCode, got.ExitCode)
	require.Equal(t, res.Stdout, got.Stdout)
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := New()
	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(withClock(func() time.Time { return now }))

	require.NoError(t, c.Set("k", command.Result{}, time.Second))
	now = now.Add(2 * time.Second)

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsedOverCapacity(t *testing.T) {
	c := New(WithCapacity(2))

	require.NoError(t, c.Set("a", command.Result{}, time.Minute))
	require.NoError(t, c.Set("b", command.Result{}, time.Minute))
	_, _ = c.Get("a") // touch a, making b the LRU
	require.NoError(t, c.Set("c", command.Result{}, time.Minute))

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	require.True(t, okA)
	require.False(t, okB)
	require.True(t, okC)
	require.Equal(t, 2, c.Len())
}

func TestCache_DeleteRemovesEntry(t *testing.T) {
	c := New()
	require.NoError(t, c.Set("k", command.Result{}, time.Minute))
	c.Delete("k")
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestCache_SetOverwritesExisting(t *testing.T) {
	c := New()
	require.NoError(t, c.Set("k", command.Result{ExitCode: 1}, time.Minute))
	require.NoError(t, c.Set("k", command.Result{ExitCode: 2}, time.Minute))

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 2, got.ExitCode)
	require.Equal(t, 1, c.Len())
}
