package lease

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLease_AcquireRelease(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLease(client, "test:", Options{Reentry: 500 * time.Millisecond}, nil, nil)
	b := NewRedisLease(client, "test:", Options{}, nil, nil)

	h, ok, _, err := a.Acquire(ctx, "MintA")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, denial, err := b.Acquire(ctx, "MintB")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, DenialHeld, denial)

	ttl, err := a.lockTTL(ctx)
	require.NoError(t, err)
	assert.Greater(t, ttl, 19*time.Minute)

	assert.ErrorIs(t, b.Release(ctx, Handle{Mint: "MintA", Token: "someone-else"}), ErrNotHeld)
	require.NoError(t, a.Release(ctx, h))

	_, ok, denial, err = b.Acquire(ctx, "MintA")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, DenialReentry, denial)

	require.Eventually(t, func() bool {
		h2, ok, _, err := b.Acquire(ctx, "MintA")
		if err != nil || !ok {
			return false
		}
		return b.Release(ctx, h2) == nil
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRedisLease_StaleExpires(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	l := NewRedisLease(client, "stale:", Options{StaleAfter: 300 * time.Millisecond}, nil, nil)
	_, ok, _, err := l.Acquire(ctx, "MintA")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, _, err := l.Acquire(ctx, "MintB")
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)
}

// lockTTL reads the remaining TTL of the lock key, zero when free.
func (l *RedisLease) lockTTL(ctx context.Context) (time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, l.lockKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("lease ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
