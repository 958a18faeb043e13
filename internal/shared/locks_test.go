package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	ctx := context.Background()

	release, err := locker.TryLock(ctx, JobLockKey("lease_sweep"), time.Minute)
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, JobLockKey("lease_sweep"), time.Minute)
	require.ErrorIs(t, err, ErrJobBusy)

	release(ctx)
	require.False(t, mr.Exists(JobLockKey("lease_sweep")))

	release2, err := locker.TryLock(ctx, JobLockKey("lease_sweep"), time.Minute)
	require.NoError(t, err)
	release2(ctx)
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	ctx := context.Background()

	release, err := locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	release(ctx)
	require.True(t, mr.Exists("k"))
	other(ctx)
	require.False(t, mr.Exists("k"))
}

func TestNilLockerAlwaysGrants(t *testing.T) {
	var locker *RedisLocker
	release, err := locker.TryLock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	release(context.Background())
}
