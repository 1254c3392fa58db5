package locking

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.clock = func() time.Time { return now }

	release, err := locker.Acquire(ctx, "shipping-sync", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "shipping-sync", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	_, err = locker.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	_, err = locker.Acquire(ctx, "shipping-sync", time.Minute)
	require.NoError(t, err)
}

func TestLocalLockerExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.clock = func() time.Time { return now }

	stale, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	// the stale holder must not release the new lease
	require.NoError(t, stale(ctx))
	_, err = locker.Acquire(ctx, "job", time.Minute)
	require.True(t, errors.Is(err, ErrLockHeld))
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	locker, err := NewRedisLocker(client, "test-lock:")
	require.NoError(t, err)
	name := "sync-" + time.Now().Format(time.RFC3339Nano)

	release, err := locker.Acquire(ctx, name, 5*time.Second)
	require.NoError(t, err)
	_, err = locker.Acquire(ctx, name, 5*time.Second)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	again, err := locker.Acquire(ctx, name, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
