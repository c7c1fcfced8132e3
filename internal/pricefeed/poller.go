package pricefeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/jupiter"
	"solana-swap-trader/internal/observability"
)

// Poller defaults.
const (
	DefaultPriceTTL       = 2 * time.Second
	DefaultRequestSpacing = 900 * time.Millisecond
	DefaultCooldown       = 60 * time.Second
	DefaultCooldownJitter = 5 * time.Second
	DefaultSOLPriceTTL    = 2 * time.Second
)

// PriceSource fetches USD prices for a batch of ids.
type PriceSource interface {
	Prices(ctx context.Context, ids []string) (map[string]float64, error)
}

// PriceFunc adapts a function to PriceSource.
type PriceFunc func(ctx context.Context, ids []string) (map[string]float64, error)

// Prices calls f.
func (f PriceFunc) Prices(ctx context.Context, ids []string) (map[string]float64, error) {
	return f(ctx, ids)
}

// PollerConfig configures Poller.
type PollerConfig struct {
	TTL            time.Duration
	Spacing        time.Duration
	Cooldown       time.Duration
	CooldownJitter time.Duration
	SOLPriceTTL    time.Duration
	Clock          clock.Clock
	Jitter         func(max time.Duration) time.Duration
	Logger         logrus.FieldLogger
}

type cachedPrice struct {
	value float64
	at    time.Time
}

// Poller is a rate-limit aware HTTP price lookup. It holds the per-mint
// cache and the shared cooldown that would otherwise be process globals.
type Poller struct {
	primary   PriceSource
	secondary PriceSource
	cfg       PollerConfig
	log       logrus.FieldLogger

	mu            sync.Mutex
	cache         map[string]cachedPrice
	lastRequest   time.Time
	cooldownUntil time.Time
	sol           cachedPrice
}

// NewPoller creates a Poller. secondary may be nil.
func NewPoller(primary, secondary PriceSource, cfg PollerConfig) *Poller {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultPriceTTL
	}
	if cfg.Spacing == 0 {
		cfg.Spacing = DefaultRequestSpacing
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.CooldownJitter == 0 {
		cfg.CooldownJitter = DefaultCooldownJitter
	}
	if cfg.SOLPriceTTL == 0 {
		cfg.SOLPriceTTL = DefaultSOLPriceTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Jitter == nil {
		cfg.Jitter = clock.Jitter
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Poller{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "price_poller"),
		cache:     make(map[string]cachedPrice),
	}
}

// Price returns the USD price of mint. While cooling down after a 429 it
// only serves a fresh cached value. The second result is false when no
// usable price is available.
func (p *Poller) Price(ctx context.Context, mint string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Clock.Now()
	cached, fresh := p.freshLocked(mint, now)
	if now.Before(p.cooldownUntil) || fresh {
		return cached, fresh
	}

	if !p.lastRequest.IsZero() {
		if gap := now.Sub(p.lastRequest); gap < p.cfg.Spacing {
			if err := p.cfg.Clock.Sleep(ctx, p.cfg.Spacing-gap); err != nil {
				return 0, false
			}
		}
	}

	v, err := p.fetch(ctx, mint)
	now = p.cfg.Clock.Now()
	p.lastRequest = now
	if err == nil && v > 0 {
		p.cache[mint] = cachedPrice{value: v, at: now}
		p.cooldownUntil = time.Time{}
		return v, true
	}

	var httpErr *jupiter.HTTPError
	if errors.As(err, &httpErr) && httpErr.RateLimited() {
		wait := p.cfg.Cooldown + p.cfg.Jitter(p.cfg.CooldownJitter)
		if httpErr.RetryAfter > wait {
			wait = httpErr.RetryAfter
		}
		p.cooldownUntil = now.Add(wait)
		p.log.WithFields(logrus.Fields{"mint": mint, "cooldown": wait}).Warn("price endpoint rate limited")
	} else {
		p.cooldownUntil = time.Time{}
	}
	return p.freshLocked(mint, now)
}

// fetch tries the primary source, then the secondary one. The returned error
// is the last one observed, so a 429 from the secondary drives the cooldown.
func (p *Poller) fetch(ctx context.Context, mint string) (float64, error) {
	v, err := p.fetchFrom(ctx, p.primary, "primary", mint)
	if err == nil && v > 0 {
		return v, nil
	}
	if p.secondary == nil {
		return 0, err
	}
	return p.fetchFrom(ctx, p.secondary, "secondary", mint)
}

func (p *Poller) fetchFrom(ctx context.Context, src PriceSource, name, mint string) (float64, error) {
	prices, err := src.Prices(ctx, []string{mint})
	if err != nil {
		kind := "transport"
		var httpErr *jupiter.HTTPError
		if errors.As(err, &httpErr) {
			kind = httpErr.Reason()
		}
		observability.RecordPricePollError(name, kind)
		p.log.WithError(err).WithField("endpoint", name).Debug("price lookup failed")
		return 0, err
	}
	v := prices[mint]
	if v <= 0 {
		observability.RecordPricePollError(name, "missing")
		return 0, errMissingPrice
	}
	return v, nil
}

var errMissingPrice = errors.New("price missing from response")

func (p *Poller) freshLocked(mint string, now time.Time) (float64, bool) {
	c, ok := p.cache[mint]
	if !ok || now.Sub(c.at) >= p.cfg.TTL {
		return 0, false
	}
	return c.value, true
}

// SOLPrice returns the SOL/USD price used to convert SOL-quoted pools.
// A failed refresh falls back to the last known value, however old.
func (p *Poller) SOLPrice(ctx context.Context) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Clock.Now()
	if p.sol.value > 0 && now.Sub(p.sol.at) <= p.cfg.SOLPriceTTL {
		return p.sol.value, true
	}
	v, err := p.fetchFrom(ctx, p.primary, "primary", domain.SOLMint)
	if err == nil && v > 0 {
		p.sol = cachedPrice{value: v, at: now}
		return v, true
	}
	return p.sol.value, p.sol.value > 0
}
