package pricefeed

import (
	"math"
	"time"

	"solana-swap-trader/internal/domain"
)

// Debounce defaults.
const (
	DefaultMinDeltaBps = 3
	DefaultMinGap      = 300 * time.Millisecond
)

// Aggregator holds the debounced price. It is not safe for concurrent use;
// the trading loop owns it.
type Aggregator struct {
	minDeltaBps int
	minGap      time.Duration

	last domain.PriceTick
	has  bool
}

// NewAggregator creates an Aggregator. Zero values select the defaults.
func NewAggregator(minDeltaBps int, minGap time.Duration) *Aggregator {
	if minDeltaBps == 0 {
		minDeltaBps = DefaultMinDeltaBps
	}
	if minGap == 0 {
		minGap = DefaultMinGap
	}
	return &Aggregator{minDeltaBps: minDeltaBps, minGap: minGap}
}

// Offer applies the debounce rule to a candidate and reports whether it
// replaced the aggregate. A candidate must be newer than the last accepted
// tick, where a stream tick beats a poll tick with the same timestamp, and
// then either be the first value, move at least minDeltaBps, or arrive at
// least minGap after the last acceptance.
func (a *Aggregator) Offer(c domain.PriceTick, now time.Time) bool {
	if !c.Valid() {
		return false
	}
	if a.has {
		newer := c.At.After(a.last.At) ||
			(c.At.Equal(a.last.At) && a.last.Source == domain.SourcePoll && c.Source == domain.SourceStream)
		if !newer {
			return false
		}
		moved := absInt(deltaBps(c.Price, a.last.Price)) >= a.minDeltaBps
		if !moved && now.Sub(a.last.At) < a.minGap {
			return false
		}
	}
	a.last = c
	a.has = true
	return true
}

// Last returns the current aggregate.
func (a *Aggregator) Last() (domain.PriceTick, bool) {
	return a.last, a.has
}

// deltaBps is the rounded change from anchor to px in basis points.
func deltaBps(px, anchor float64) int {
	if anchor <= 0 {
		return 0
	}
	return int(math.Round((px/anchor - 1) * 10_000))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
