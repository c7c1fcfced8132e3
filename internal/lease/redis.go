package lease

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
)

// DefaultKeyPrefix namespaces lease keys.
const DefaultKeyPrefix = "trader:"

// releaseScript deletes the lease only if the caller still owns it, then
// arms the reentry block for the mint.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	if tonumber(ARGV[2]) > 0 then
		redis.call("SET", KEYS[2], "1", "PX", ARGV[2])
	end
	return 1
end
return 0
`)

// RedisLease is a fleet-wide Lease backed by a single Redis key.
// Staleness is the key TTL: a holder that never releases loses the lease
// after StaleAfter.
type RedisLease struct {
	client *redis.Client
	prefix string
	opts   Options
	clock  clock.Clock
	logger logrus.FieldLogger
}

// NewRedisLease creates a RedisLease on an already connected client.
func NewRedisLease(client *redis.Client, prefix string, opts Options, clk clock.Clock, logger logrus.FieldLogger) *RedisLease {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisLease{
		client: client,
		prefix: prefix,
		opts:   opts.withDefaults(),
		clock:  clk,
		logger: logger.WithField("component", "lease"),
	}
}

var _ Lease = (*RedisLease)(nil)

func (l *RedisLease) lockKey() string { return l.prefix + "lock" }

func (l *RedisLease) reentryKey(mint string) string { return l.prefix + "reentry:" + mint }

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context, mint string) (Handle, bool, Denial, error) {
	blocked, err := l.client.Exists(ctx, l.reentryKey(mint)).Result()
	if err != nil {
		return Handle{}, false, DenialNone, fmt.Errorf("check reentry block: %w", err)
	}
	if blocked > 0 {
		return Handle{}, false, DenialReentry, nil
	}

	h := Handle{Mint: mint, Token: uuid.NewString(), AcquiredAt: l.clock.Now()}
	ok, err := l.client.SetNX(ctx, l.lockKey(), h.Token, l.opts.StaleAfter).Result()
	if err != nil {
		return Handle{}, false, DenialNone, fmt.Errorf("set lease: %w", err)
	}
	if !ok {
		return Handle{}, false, DenialHeld, nil
	}

	l.logger.WithFields(logrus.Fields{"mint": mint, "token": h.Token}).Debug("lease acquired")
	return h, true, DenialNone, nil
}

// Release implements Lease.
func (l *RedisLease) Release(ctx context.Context, h Handle) error {
	res, err := releaseScript.Run(ctx, l.client,
		[]string{l.lockKey(), l.reentryKey(h.Mint)},
		h.Token, l.opts.Reentry.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}
