package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-trader/internal/clock"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryLease_Exclusive(t *testing.T) {
	clk := clock.NewFake(t0)
	l := NewMemoryLease(Options{}, clk, nil)
	ctx := context.Background()

	h, ok, _, err := l.Acquire(ctx, "MintA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, h.Token)

	_, ok, denial, err := l.Acquire(ctx, "MintB")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, DenialHeld, denial)

	require.NoError(t, l.Release(ctx, h))
	assert.ErrorIs(t, l.Release(ctx, h), ErrNotHeld)

	_, ok, _, err = l.Acquire(ctx, "MintB")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLease_ReentryBlock(t *testing.T) {
	clk := clock.NewFake(t0)
	l := NewMemoryLease(Options{}, clk, nil)
	ctx := context.Background()

	h, ok, _, _ := l.Acquire(ctx, "MintA")
	require.True(t, ok)
	require.NoError(t, l.Release(ctx, h))

	clk.Advance(DefaultReentry - time.Second)
	_, ok, denial, _ := l.Acquire(ctx, "MintA")
	assert.False(t, ok)
	assert.Equal(t, DenialReentry, denial)

	clk.Advance(time.Second)
	_, ok, _, _ = l.Acquire(ctx, "MintA")
	assert.True(t, ok)
}

func TestMemoryLease_StaleReclaim(t *testing.T) {
	clk := clock.NewFake(t0)
	l := NewMemoryLease(Options{}, clk, nil)
	ctx := context.Background()

	old, ok, _, _ := l.Acquire(ctx, "MintA")
	require.True(t, ok)

	clk.Advance(DefaultStaleAfter - time.Second)
	_, ok, _, _ = l.Acquire(ctx, "MintB")
	assert.False(t, ok)

	clk.Advance(time.Second)
	fresh, ok, _, _ := l.Acquire(ctx, "MintB")
	require.True(t, ok)

	assert.ErrorIs(t, l.Release(ctx, old), ErrNotHeld, "reclaimed holder cannot release")
	assert.NoError(t, l.Release(ctx, fresh))
}

func TestMemoryLease_NegativeReentryDisablesBlock(t *testing.T) {
	clk := clock.NewFake(t0)
	l := NewMemoryLease(Options{Reentry: -1}, clk, nil)
	ctx := context.Background()

	h, _, _, _ := l.Acquire(ctx, "MintA")
	require.NoError(t, l.Release(ctx, h))
	_, ok, _, _ := l.Acquire(ctx, "MintA")
	assert.True(t, ok)
}
