package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
)

// MemoryLease is a process-local Lease.
type MemoryLease struct {
	opts   Options
	clock  clock.Clock
	logger logrus.FieldLogger

	mu       sync.Mutex
	holder   *Handle
	released map[string]time.Time // mint -> release time
}

// NewMemoryLease creates a MemoryLease. clk defaults to the real clock.
func NewMemoryLease(opts Options, clk clock.Clock, logger logrus.FieldLogger) *MemoryLease {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MemoryLease{
		opts:     opts.withDefaults(),
		clock:    clk,
		logger:   logger.WithField("component", "lease"),
		released: make(map[string]time.Time),
	}
}

var _ Lease = (*MemoryLease)(nil)

// Acquire implements Lease.
func (l *MemoryLease) Acquire(_ context.Context, mint string) (Handle, bool, Denial, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if rel, ok := l.released[mint]; ok && now.Sub(rel) < l.opts.Reentry {
		return Handle{}, false, DenialReentry, nil
	}

	if l.holder != nil {
		if now.Sub(l.holder.AcquiredAt) < l.opts.StaleAfter {
			return Handle{}, false, DenialHeld, nil
		}
		l.logger.WithFields(logrus.Fields{
			"mint":        l.holder.Mint,
			"acquired_at": l.holder.AcquiredAt,
		}).Warn("reclaiming stale lease")
	}

	h := Handle{Mint: mint, Token: uuid.NewString(), AcquiredAt: now}
	l.holder = &h
	return h, true, DenialNone, nil
}

// Release implements Lease.
func (l *MemoryLease) Release(_ context.Context, h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == nil || l.holder.Token != h.Token {
		return ErrNotHeld
	}
	l.holder = nil
	l.released[h.Mint] = l.clock.Now()
	return nil
}
