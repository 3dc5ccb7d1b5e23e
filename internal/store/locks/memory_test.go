package locks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryAcquire_MutualExclusion(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	token, ok, err := repo.Acquire(ctx, "fetch_collections", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = repo.Acquire(ctx, "fetch_collections", 2*time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second caller must not win a live lock")

	// Independent names do not contend.
	_, ok, err = repo.Acquire(ctx, "species_stats", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.Release(ctx, "fetch_collections", token))

	_, ok, err = repo.Acquire(ctx, "fetch_collections", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "released lock is acquirable again")
}

func TestMemoryAcquire_AbandonedLockIsStealable(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	repo.SetClock(func() time.Time { return now })

	first, ok, err := repo.Acquire(ctx, "fetch_collections", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Within the hold window the lock is not stealable.
	now = t0.Add(time.Minute)
	_, ok, err = repo.Acquire(ctx, "fetch_collections", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// One tick past the hold window the holder counts as abandoned.
	now = t0.Add(time.Minute + time.Second)
	second, ok, err := repo.Acquire(ctx, "fetch_collections", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "abandoned lock must be re-acquirable without release")
	require.NotEqual(t, first, second)

	// The original holder's release is now a no-op; the thief keeps the lock.
	require.NoError(t, repo.Release(ctx, "fetch_collections", first))
	_, ok, err = repo.Acquire(ctx, "fetch_collections", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryRelease_StaleTokenIsNoop(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	token, ok, err := repo.Acquire(ctx, "fetch_collections", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.Release(ctx, "fetch_collections", token+1))

	_, ok, err = repo.Acquire(ctx, "fetch_collections", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "lock must survive a release with the wrong token")
}
