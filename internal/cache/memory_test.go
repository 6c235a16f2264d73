package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGetExpiry(t *testing.T) {
	current := time.Now()
	store := NewMemoryStore().WithClock(func() time.Time { return current })

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "perm:alice", []byte("refunds:create"), time.Minute))

	value, ok, err := store.Get(ctx, "perm:alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("refunds:create"), value)

	current = current.Add(2 * time.Minute)

	_, ok, err = store.Get(ctx, "perm:alice")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreIncrementWindowRollover(t *testing.T) {
	current := time.Now()
	store := NewMemoryStore().WithClock(func() time.Time { return current })

	ctx := context.Background()
	count, _, err := store.IncrementWithTTL(ctx, "attempts:ch-1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, _, err = store.IncrementWithTTL(ctx, "attempts:ch-1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	current = current.Add(90 * time.Second)

	count, _, err = store.IncrementWithTTL(ctx, "attempts:ch-1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Delete(ctx, "a", "missing"))

	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}
