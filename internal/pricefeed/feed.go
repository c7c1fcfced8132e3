package pricefeed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/storage"
)

// First-price defaults.
const (
	DefaultFirstWait      = 2 * time.Second
	DefaultFirstPollAfter = 1200 * time.Millisecond
	DefaultFirstStep      = 200 * time.Millisecond
	DefaultTickBatch      = 50
)

// Stream is the push side of the feed.
type Stream interface {
	Latest() (Sample, bool)
	Fresh() (Sample, bool)
}

// Poll is the pull side of the feed.
type Poll interface {
	Price(ctx context.Context, mint string) (float64, bool)
	SOLPrice(ctx context.Context) (float64, bool)
}

// Config configures Feed.
type Config struct {
	Mint      string
	RouteBase domain.RouteBase

	FirstWait      time.Duration
	FirstPollAfter time.Duration
	FirstStep      time.Duration

	MinDeltaBps int
	MinGap      time.Duration

	// LivePrices and Ticks are optional sinks for accepted prices and tick history.
	LivePrices storage.LivePriceStore
	Ticks      storage.TickSink
	TickBatch  int

	Clock  clock.Clock
	Logger logrus.FieldLogger
}

// Reading is the outcome of one Next call.
type Reading struct {
	Tick      domain.PriceTick // current aggregate
	Candidate domain.PriceTick // value offered this round
	Accepted  bool             // the candidate replaced the aggregate
}

// Feed selects a candidate price each round and debounces it into one
// aggregate. It is driven by a single goroutine.
type Feed struct {
	stream Stream
	poll   Poll
	agg    *Aggregator
	cfg    Config
	clock  clock.Clock
	log    logrus.FieldLogger

	pending []*domain.PricePoint
}

// NewFeed creates a Feed. stream may be nil, in which case only the poller is used.
func NewFeed(stream Stream, poll Poll, cfg Config) *Feed {
	if cfg.FirstWait == 0 {
		cfg.FirstWait = DefaultFirstWait
	}
	if cfg.FirstPollAfter == 0 {
		cfg.FirstPollAfter = DefaultFirstPollAfter
	}
	if cfg.FirstStep == 0 {
		cfg.FirstStep = DefaultFirstStep
	}
	if cfg.TickBatch == 0 {
		cfg.TickBatch = DefaultTickBatch
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Feed{
		stream: stream,
		poll:   poll,
		agg:    NewAggregator(cfg.MinDeltaBps, cfg.MinGap),
		cfg:    cfg,
		clock:  cfg.Clock,
		log:    cfg.Logger.WithFields(logrus.Fields{"component": "price_feed", "mint": cfg.Mint}),
	}
}

// FirstPrice obtains the entry price. It waits up to FirstWait for a stream
// value, trying the poller once after FirstPollAfter, then polls one last
// time. Without any price it returns *domain.NoPriceError.
func (f *Feed) FirstPrice(ctx context.Context) (domain.PriceTick, error) {
	start := f.clock.Now()
	polled := false

	for f.clock.Now().Sub(start) < f.cfg.FirstWait {
		if f.stream != nil {
			if s, ok := f.stream.Latest(); ok {
				if px, ok := f.toUSD(ctx, s.Price); ok {
					tick := domain.PriceTick{Mint: f.cfg.Mint, Source: domain.SourceStream, Price: px, At: s.At}
					f.saveLive(ctx, tick)
					return tick, nil
				}
			}
		}
		if !polled && f.clock.Now().Sub(start) >= f.cfg.FirstPollAfter {
			polled = true
			if tick, ok := f.pollTick(ctx); ok {
				f.saveLive(ctx, tick)
				return tick, nil
			}
		}
		if err := f.clock.Sleep(ctx, f.cfg.FirstStep); err != nil {
			return domain.PriceTick{}, err
		}
	}

	if tick, ok := f.pollTick(ctx); ok {
		f.saveLive(ctx, tick)
		return tick, nil
	}
	f.log.Warn("no entry price from stream or poll")
	return domain.PriceTick{}, &domain.NoPriceError{Mint: f.cfg.Mint}
}

// Next runs one selection round: a fresh stream value if present, else the
// poller. The candidate is offered to the debounce and the aggregate is
// returned. ok is false when neither source produced a candidate.
func (f *Feed) Next(ctx context.Context) (Reading, bool) {
	cand, ok := f.candidate(ctx)
	if !ok {
		return Reading{}, false
	}

	now := f.clock.Now()
	accepted := f.agg.Offer(cand, now)
	observability.RecordPriceTick(cand.Source.String(), accepted)
	f.record(ctx, cand, accepted)

	agg, _ := f.agg.Last()
	f.saveLive(ctx, agg)
	return Reading{Tick: agg, Candidate: cand, Accepted: accepted}, true
}

// Aggregate returns the current debounced price.
func (f *Feed) Aggregate() (domain.PriceTick, bool) {
	return f.agg.Last()
}

func (f *Feed) candidate(ctx context.Context) (domain.PriceTick, bool) {
	if f.stream != nil {
		if s, ok := f.stream.Fresh(); ok {
			if px, ok := f.toUSD(ctx, s.Price); ok {
				return domain.PriceTick{Mint: f.cfg.Mint, Source: domain.SourceStream, Price: px, At: s.At}, true
			}
		}
	}
	return f.pollTick(ctx)
}

func (f *Feed) pollTick(ctx context.Context) (domain.PriceTick, bool) {
	px, ok := f.poll.Price(ctx, f.cfg.Mint)
	if !ok || px <= 0 {
		return domain.PriceTick{}, false
	}
	return domain.PriceTick{Mint: f.cfg.Mint, Source: domain.SourcePoll, Price: px, At: f.clock.Now()}, true
}

// toUSD converts a pool price quoted in the route base to USD.
func (f *Feed) toUSD(ctx context.Context, raw float64) (float64, bool) {
	if raw <= 0 {
		return 0, false
	}
	if f.cfg.RouteBase != domain.RouteBaseSOL {
		return raw, true
	}
	sol, ok := f.poll.SOLPrice(ctx)
	if !ok {
		return 0, false
	}
	return raw * sol, true
}

func (f *Feed) saveLive(ctx context.Context, tick domain.PriceTick) {
	if f.cfg.LivePrices == nil || tick.Price <= 0 {
		return
	}
	err := f.cfg.LivePrices.Upsert(ctx, &domain.LivePrice{Mint: f.cfg.Mint, PriceUSD: tick.Price, UpdatedAt: f.clock.Now()})
	if err != nil {
		f.log.WithError(err).Debug("save live price")
	}
}

func (f *Feed) record(ctx context.Context, tick domain.PriceTick, accepted bool) {
	if f.cfg.Ticks == nil {
		return
	}
	f.pending = append(f.pending, &domain.PricePoint{
		Mint:        tick.Mint,
		TimestampMs: tick.At.UnixMilli(),
		Source:      tick.Source.String(),
		Price:       tick.Price,
		Accepted:    accepted,
	})
	if len(f.pending) >= f.cfg.TickBatch {
		f.Flush(ctx)
	}
}

// Flush writes buffered tick history. Failures are logged and the batch dropped.
func (f *Feed) Flush(ctx context.Context) {
	if f.cfg.Ticks == nil || len(f.pending) == 0 {
		return
	}
	batch := f.pending
	f.pending = nil
	if err := f.cfg.Ticks.InsertTicks(ctx, batch); err != nil {
		f.log.WithError(err).WithField("points", len(batch)).Warn("tick history write failed")
	}
}
