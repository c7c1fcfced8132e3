package pricefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/solana"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeWS struct {
	mu    sync.Mutex
	chans map[string]chan solana.AccountNotification
	err   error
}

func newFakeWS() *fakeWS {
	return &fakeWS{chans: make(map[string]chan solana.AccountNotification)}
}

func (f *fakeWS) AccountSubscribe(_ context.Context, account string) (<-chan solana.AccountNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan solana.AccountNotification, 8)
	f.chans[account] = ch
	return ch, nil
}

func (f *fakeWS) Close() error { return nil }

func (f *fakeWS) push(account string, ui float64) {
	f.mu.Lock()
	ch := f.chans[account]
	f.mu.Unlock()
	ch <- solana.AccountNotification{Account: account, UIAmount: &ui}
}

func (f *fakeWS) subscribed(n int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chans) == n
}

func ui(v float64) *float64 { return &v }

func TestVaultStream_PriceNeedsBothSides(t *testing.T) {
	clk := clock.NewFake(t0)
	s := NewVaultStream(newFakeWS(), StreamConfig{QuoteVault: "qv", TokenVault: "tv", Clock: clk})

	s.apply(true, solana.AccountNotification{UIAmount: ui(1500)})
	_, ok := s.Latest()
	assert.False(t, ok)

	s.apply(false, solana.AccountNotification{UIAmount: ui(3_000_000)})
	got, ok := s.Latest()
	require.True(t, ok)
	assert.InDelta(t, 0.0005, got.Price, 1e-12)
	assert.Equal(t, t0, got.At)

	clk.Advance(100 * time.Millisecond)
	s.apply(true, solana.AccountNotification{UIAmount: ui(1800)})
	got, _ = s.Latest()
	assert.InDelta(t, 0.0006, got.Price, 1e-12)
	assert.Equal(t, t0.Add(100*time.Millisecond), got.At)
}

func TestVaultStream_RawAmountFallback(t *testing.T) {
	s := NewVaultStream(newFakeWS(), StreamConfig{Clock: clock.NewFake(t0)})

	s.apply(true, solana.AccountNotification{Amount: "2500000", Decimals: 6})
	s.apply(false, solana.AccountNotification{Amount: "5000000000", Decimals: 9})
	got, ok := s.Latest()
	require.True(t, ok)
	assert.InDelta(t, 0.5, got.Price, 1e-12)

	// Unparseable amounts are ignored.
	s.apply(true, solana.AccountNotification{Amount: "n/a", Decimals: 6})
	got, _ = s.Latest()
	assert.InDelta(t, 0.5, got.Price, 1e-12)
}

func TestVaultStream_ZeroReserveIgnored(t *testing.T) {
	s := NewVaultStream(newFakeWS(), StreamConfig{Clock: clock.NewFake(t0)})
	s.apply(true, solana.AccountNotification{UIAmount: ui(10)})
	s.apply(false, solana.AccountNotification{UIAmount: ui(0)})
	_, ok := s.Latest()
	assert.False(t, ok)
}

func TestVaultStream_FreshRespectsStaleAfter(t *testing.T) {
	clk := clock.NewFake(t0)
	s := NewVaultStream(newFakeWS(), StreamConfig{Clock: clk})
	s.apply(true, solana.AccountNotification{UIAmount: ui(2)})
	s.apply(false, solana.AccountNotification{UIAmount: ui(1)})

	clk.Advance(DefaultStaleAfter)
	_, ok := s.Fresh()
	assert.True(t, ok, "exactly at the threshold is still fresh")

	clk.Advance(time.Millisecond)
	_, ok = s.Fresh()
	assert.False(t, ok)

	_, ok = s.Latest()
	assert.True(t, ok, "latest ignores age")
}

func TestVaultStream_Run(t *testing.T) {
	ws := newFakeWS()
	s := NewVaultStream(ws, StreamConfig{QuoteVault: "qv", TokenVault: "tv", Clock: clock.NewFake(t0)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return ws.subscribed(2) }, time.Second, 5*time.Millisecond)
	ws.push("qv", 300)
	ws.push("tv", 100)

	require.Eventually(t, func() bool {
		got, ok := s.Latest()
		return ok && got.Price == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestVaultStream_RunSubscribeError(t *testing.T) {
	ws := newFakeWS()
	ws.err = errors.New("dial refused")
	s := NewVaultStream(ws, StreamConfig{QuoteVault: "qv", TokenVault: "tv"})

	err := s.Run(context.Background())
	assert.ErrorContains(t, err, "subscribe quote vault")
}
