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
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/jupiter"
)

type scriptedSource struct {
	mu    sync.Mutex
	calls []string
	fn    func(n int, id string) (float64, error)
}

func (s *scriptedSource) Prices(_ context.Context, ids []string) (map[string]float64, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, ids[0])
	s.mu.Unlock()

	v, err := s.fn(n, ids[0])
	if err != nil {
		return nil, err
	}
	return map[string]float64{ids[0]: v}, nil
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func constant(v float64) *scriptedSource {
	return &scriptedSource{fn: func(int, string) (float64, error) { return v, nil }}
}

func failing(err error) *scriptedSource {
	return &scriptedSource{fn: func(int, string) (float64, error) { return 0, err }}
}

func newTestPoller(primary, secondary PriceSource, clk *clock.Fake) *Poller {
	return NewPoller(primary, secondary, PollerConfig{Clock: clk, Jitter: clock.NoJitter})
}

func TestPoller_CachesWithinTTL(t *testing.T) {
	clk := clock.NewFake(t0)
	src := constant(0.25)
	p := newTestPoller(src, nil, clk)

	v, ok := p.Price(context.Background(), "MintA")
	require.True(t, ok)
	assert.Equal(t, 0.25, v)

	clk.Advance(DefaultPriceTTL - time.Millisecond)
	_, ok = p.Price(context.Background(), "MintA")
	assert.True(t, ok)
	assert.Equal(t, 1, src.count())

	clk.Advance(time.Millisecond)
	_, ok = p.Price(context.Background(), "MintA")
	assert.True(t, ok)
	assert.Equal(t, 2, src.count())
	assert.Empty(t, clk.Sleeps(), "requests more than the spacing apart do not wait")
}

func TestPoller_EnforcesRequestSpacing(t *testing.T) {
	clk := clock.NewFake(t0)
	p := newTestPoller(constant(1), nil, clk)

	p.Price(context.Background(), "MintA")
	clk.Advance(300 * time.Millisecond)
	p.Price(context.Background(), "MintB")

	assert.Equal(t, []time.Duration{600 * time.Millisecond}, clk.Sleeps())
}

func TestPoller_RateLimitCooldown(t *testing.T) {
	clk := clock.NewFake(t0)
	src := &scriptedSource{fn: func(n int, _ string) (float64, error) {
		if n == 0 {
			return 0, &jupiter.HTTPError{Status: 429}
		}
		return 2, nil
	}}
	p := newTestPoller(src, nil, clk)

	_, ok := p.Price(context.Background(), "MintA")
	assert.False(t, ok)

	clk.Advance(DefaultCooldown - time.Second)
	_, ok = p.Price(context.Background(), "MintA")
	assert.False(t, ok, "no request while cooling down")
	assert.Equal(t, 1, src.count())

	clk.Advance(time.Second)
	v, ok := p.Price(context.Background(), "MintA")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestPoller_RetryAfterExtendsCooldown(t *testing.T) {
	clk := clock.NewFake(t0)
	src := failing(&jupiter.HTTPError{Status: 429, RetryAfter: 90 * time.Second})
	p := newTestPoller(src, nil, clk)

	p.Price(context.Background(), "MintA")
	clk.Advance(80 * time.Second)
	p.Price(context.Background(), "MintA")
	assert.Equal(t, 1, src.count())
}

func TestPoller_CooldownServesFreshCache(t *testing.T) {
	clk := clock.NewFake(t0)
	src := &scriptedSource{fn: func(_ int, id string) (float64, error) {
		if id == "MintB" {
			return 0, &jupiter.HTTPError{Status: 429}
		}
		return 3, nil
	}}
	p := newTestPoller(src, nil, clk)

	_, ok := p.Price(context.Background(), "MintA")
	require.True(t, ok)
	_, ok = p.Price(context.Background(), "MintB")
	require.False(t, ok)

	v, ok := p.Price(context.Background(), "MintA")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)
	assert.Equal(t, 2, src.count())
}

func TestPoller_OtherErrorsDoNotCoolDown(t *testing.T) {
	clk := clock.NewFake(t0)
	src := failing(&jupiter.HTTPError{Status: 500})
	p := newTestPoller(src, nil, clk)

	p.Price(context.Background(), "MintA")
	clk.Advance(time.Second)
	p.Price(context.Background(), "MintA")
	assert.Equal(t, 2, src.count())
}

func TestPoller_SecondaryFallback(t *testing.T) {
	clk := clock.NewFake(t0)
	primary := failing(errors.New("connection reset"))
	secondary := constant(4)
	p := newTestPoller(primary, secondary, clk)

	v, ok := p.Price(context.Background(), "MintA")
	require.True(t, ok)
	assert.Equal(t, 4.0, v)
	assert.Equal(t, 1, primary.count())
	assert.Equal(t, 1, secondary.count())
}

func TestPoller_MissingPriceIsNotRateLimit(t *testing.T) {
	clk := clock.NewFake(t0)
	src := constant(0)
	p := newTestPoller(src, nil, clk)

	_, ok := p.Price(context.Background(), "MintA")
	assert.False(t, ok)
	clk.Advance(time.Second)
	p.Price(context.Background(), "MintA")
	assert.Equal(t, 2, src.count())
}

func TestPoller_SOLPrice(t *testing.T) {
	clk := clock.NewFake(t0)
	src := &scriptedSource{fn: func(n int, id string) (float64, error) {
		if id != domain.SOLMint {
			return 0, errors.New("unexpected id")
		}
		if n == 0 {
			return 150, nil
		}
		return 0, errors.New("down")
	}}
	p := newTestPoller(src, nil, clk)

	v, ok := p.SOLPrice(context.Background())
	require.True(t, ok)
	assert.Equal(t, 150.0, v)

	clk.Advance(time.Second)
	p.SOLPrice(context.Background())
	assert.Equal(t, 1, src.count(), "cached within TTL")

	clk.Advance(5 * time.Second)
	v, ok = p.SOLPrice(context.Background())
	assert.True(t, ok, "stale value is kept when refresh fails")
	assert.Equal(t, 150.0, v)
	assert.Equal(t, 2, src.count())
}
