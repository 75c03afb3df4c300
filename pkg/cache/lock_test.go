package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T, ttl time.Duration) *AdLock {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAdLock(client, ttl)
}

func TestAdLock_AcquireThenUnlockAllowsReacquire(t *testing.T) {
	lock := newTestLock(t, 5*time.Second)
	ctx := context.Background()

	h, err := lock.Acquire(ctx, "ad-1")
	require.NoError(t, err)
	require.NoError(t, lock.Unlock(ctx, h))

	h2, err := lock.Acquire(ctx, "ad-1")
	require.NoError(t, err)
	require.NotNil(t, h2)
}

func TestAdLock_TryAcquireFailsWhileHeld(t *testing.T) {
	lock := newTestLock(t, 5*time.Second)
	ctx := context.Background()

	h, err := lock.Acquire(ctx, "ad-1")
	require.NoError(t, err)

	h2, err := lock.TryAcquire(ctx, "ad-1")
	require.NoError(t, err)
	require.Nil(t, h2)

	require.NoError(t, lock.Unlock(ctx, h))
}

func TestAdLock_UnlockAfterExpiryReturnsErrLockNotHeld(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lock := NewAdLock(client, 50*time.Millisecond)
	ctx := context.Background()

	h, err := lock.Acquire(ctx, "ad-1")
	require.NoError(t, err)

	// miniredis only expires keys when its clock is advanced explicitly.
	mr.FastForward(100 * time.Millisecond)
	// Someone else takes the now-expired lock.
	_, err = lock.Acquire(ctx, "ad-1")
	require.NoError(t, err)

	err = lock.Unlock(ctx, h)
	require.ErrorIs(t, err, ErrLockNotHeld)
}

func TestAdLock_DifferentAdsDoNotContend(t *testing.T) {
	lock := newTestLock(t, 5*time.Second)
	ctx := context.Background()

	h1, err := lock.Acquire(ctx, "ad-1")
	require.NoError(t, err)
	h2, err := lock.Acquire(ctx, "ad-2")
	require.NoError(t, err)

	require.NoError(t, lock.Unlock(ctx, h1))
	require.NoError(t, lock.Unlock(ctx, h2))
}

func TestAdLock_AcquireBlocksUntilReleased(t *testing.T) {
	lock := newTestLock(t, 5*time.Second)
	ctx := context.Background()

	h, err := lock.Acquire(ctx, "ad-1")
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = lock.Unlock(context.Background(), h)
		close(released)
	}()

	start := time.Now()
	h2, err := lock.Acquire(ctx, "ad-1")
	require.NoError(t, err)
	require.True(t, time.Since(start) >= 20*time.Millisecond)
	<-released
	require.NoError(t, lock.Unlock(ctx, h2))
}
