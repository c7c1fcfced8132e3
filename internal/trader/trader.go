// Package trader runs one position end to end: lease, entry price, buy,
// the exit state machine, sell with forced-liquidation fallback, and the
// ledger close.
package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/lease"
	"solana-swap-trader/internal/liquidator"
	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/position"
	"solana-swap-trader/internal/pricefeed"
	"solana-swap-trader/internal/router"
	"solana-swap-trader/internal/solana"
	"solana-swap-trader/internal/storage"
	"solana-swap-trader/internal/submit"
	"solana-swap-trader/internal/swap"
)

// Defaults.
const (
	DefaultAmountUSDC      = 2.0
	DefaultStreamInterval  = 400 * time.Millisecond
	DefaultPollInterval    = 2 * time.Second
	DefaultPollJitter      = 200 * time.Millisecond
	DefaultSellTimeout     = 60 * time.Second
	DefaultExitPriceMaxAge = 10 * time.Second
)

// Router finds routes for buys and sells.
type Router interface {
	Route(ctx context.Context, req router.Request) (*router.Result, error)
	RouteAny(ctx context.Context, targets []router.Target) (*router.Result, int, error)
}

// SwapBuilder signs accepted quotes inside the quote race.
type SwapBuilder interface {
	Hook(opts swap.Options) router.Builder
}

// Submitter sends a signed transaction.
type Submitter interface {
	Submit(ctx context.Context, tx *domain.SignedTransaction) (*submit.Result, error)
}

// Confirmer waits for a signature to settle.
type Confirmer interface {
	Confirm(ctx context.Context, signature string) (*solana.SignatureStatus, error)
}

// BalanceReader reads the wallet's token balance.
type BalanceReader interface {
	GetTokenBalance(ctx context.Context, owner, mint string) (*solana.TokenBalance, error)
}

// Liquidator force-sells a stuck balance.
type Liquidator interface {
	Liquidate(ctx context.Context, req liquidator.Request) (*liquidator.Result, error)
}

// StreamFunc starts the vault stream for a token. The stream must stop
// when ctx is cancelled. A nil StreamFunc, or a nil return, runs the feed
// on the poller alone.
type StreamFunc func(ctx context.Context, token *domain.TokenInfo) pricefeed.Stream

// Options for creating a Trader.
type Options struct {
	// Required collaborators
	Tokens     storage.TokenStore
	Positions  storage.PositionStore
	LivePrices storage.LivePriceStore
	Lease      lease.Lease
	Router     Router
	Builder    SwapBuilder
	Submitter  Submitter
	Confirmer  Confirmer
	Balances   BalanceReader
	Poller     pricefeed.Poll
	Liquidator Liquidator
	Wallet     string

	// Optional
	Ticks  storage.TickSink
	Stream StreamFunc

	AmountUSDC      float64
	Exit            position.Params // zero value uses position.DefaultParams
	StreamInterval  time.Duration
	PollInterval    time.Duration
	PollJitter      time.Duration
	SellTimeout     time.Duration // kill timeout of the sell task
	SellSlippageBps int
	SellMaxAccounts int
	ExitPriceMaxAge time.Duration

	Clock  clock.Clock
	Jitter func(max time.Duration) time.Duration
	Logger logrus.FieldLogger
}

// Trader runs trades. Lease serializes runs across processes; a Trader
// itself may be shared.
type Trader struct {
	opts  Options
	clock clock.Clock
	log   logrus.FieldLogger
}

// New creates a Trader with defaults applied.
func New(opts Options) *Trader {
	if opts.AmountUSDC <= 0 {
		opts.AmountUSDC = DefaultAmountUSDC
	}
	if opts.Exit == (position.Params{}) {
		opts.Exit = position.DefaultParams()
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = DefaultStreamInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollJitter < 0 {
		opts.PollJitter = 0
	} else if opts.PollJitter == 0 {
		opts.PollJitter = DefaultPollJitter
	}
	if opts.SellTimeout <= 0 {
		opts.SellTimeout = DefaultSellTimeout
	}
	if opts.SellSlippageBps <= 0 {
		opts.SellSlippageBps = router.SellSlippageBps
	}
	if opts.SellMaxAccounts <= 0 {
		opts.SellMaxAccounts = router.SellMaxAccounts
	}
	if opts.ExitPriceMaxAge <= 0 {
		opts.ExitPriceMaxAge = DefaultExitPriceMaxAge
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Jitter == nil {
		opts.Jitter = clock.Jitter
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Trader{opts: opts, clock: opts.Clock, log: opts.Logger.WithField("component", "trader")}
}

// Outcome is how a trade run ended.
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"    // lease denied
	OutcomeNoPrice    Outcome = "no_price"   // no entry price
	OutcomeBuyFailed  Outcome = "buy_failed" // neither base could buy
	OutcomeClosed     Outcome = "closed"     // sold and ledger closed
	OutcomeLiquidated Outcome = "liquidated" // sell failed, liquidation emptied the balance
	OutcomeStuck      Outcome = "stuck"      // liquidation left a balance
	OutcomeAborted    Outcome = "aborted"    // interrupted or infrastructure error
)

// Result summarizes a trade run.
type Result struct {
	Outcome     Outcome
	Denial      lease.Denial
	PositionID  string
	EntryPrice  float64
	EntryTxID   string
	Cause       domain.ExitCause
	Sell        *SellResult
	Exit        *domain.ExitRecord
	Liquidation *liquidator.Result
}

// Trade runs one position on mint. A lease denial is not an error: the
// result is OutcomeSkipped. Every other non-closed outcome returns an error.
func (t *Trader) Trade(ctx context.Context, mint string) (*Result, error) {
	log := t.log.WithField("mint", mint)

	h, ok, denial, err := t.opts.Lease.Acquire(ctx, mint)
	if err != nil {
		observability.RecordTrade(string(OutcomeAborted))
		return &Result{Outcome: OutcomeAborted}, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		log.WithField("reason", denial).Info("lease not granted; skipping signal")
		observability.RecordTrade(string(OutcomeSkipped))
		return &Result{Outcome: OutcomeSkipped, Denial: denial}, nil
	}
	defer func() {
		if err := t.opts.Lease.Release(context.WithoutCancel(ctx), h); err != nil {
			log.WithError(err).Warn("release lease")
		}
	}()

	res, err := t.run(ctx, mint, log)
	observability.RecordTrade(string(res.Outcome))
	return res, err
}

func (t *Trader) run(ctx context.Context, mint string, log logrus.FieldLogger) (*Result, error) {
	token, err := t.opts.Tokens.Get(ctx, mint)
	if err != nil {
		return &Result{Outcome: OutcomeAborted}, fmt.Errorf("load token %s: %w", mint, err)
	}
	if err := token.Validate(); err != nil {
		return &Result{Outcome: OutcomeAborted}, err
	}
	log = log.WithFields(logrus.Fields{"name": token.DisplayName(), "base": token.RouteBase})

	sctx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	var stream pricefeed.Stream
	if t.opts.Stream != nil {
		stream = t.opts.Stream(sctx, token)
	}
	feed := pricefeed.NewFeed(stream, t.opts.Poller, pricefeed.Config{
		Mint:       mint,
		RouteBase:  token.RouteBase,
		LivePrices: t.opts.LivePrices,
		Ticks:      t.opts.Ticks,
		Clock:      t.clock,
		Logger:     t.opts.Logger,
	})
	defer feed.Flush(context.WithoutCancel(ctx))

	entry, err := feed.FirstPrice(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoPrice) {
			return &Result{Outcome: OutcomeNoPrice}, err
		}
		return &Result{Outcome: OutcomeAborted}, err
	}
	log.WithFields(logrus.Fields{"price": entry.Price, "source": entry.Source}).Info("entry price")

	bought, err := t.buy(ctx, token)
	if err != nil {
		log.WithError(err).Error("buy failed on both bases")
		return &Result{Outcome: OutcomeBuyFailed}, err
	}

	now := t.clock.Now()
	rec := &domain.PositionRecord{
		ID:         uuid.NewString(),
		Mint:       mint,
		Name:       token.DisplayName(),
		EntryTime:  now,
		EntryPrice: quantizeEntry(entry.Price),
		EntryTxID:  bought.Signature,
	}
	res := &Result{PositionID: rec.ID, EntryPrice: rec.EntryPrice, EntryTxID: bought.Signature}

	machine, err := position.Open(rec.ID, mint, entry.Price, now, t.opts.Exit)
	if err != nil {
		res.Outcome = OutcomeAborted
		return res, err
	}
	if err := t.opts.Positions.Insert(ctx, rec); err != nil {
		// The tokens are already bought; keep managing the position.
		log.WithError(err).Error("ledger insert failed")
	}
	log = log.WithField("position", rec.ID)
	log.WithFields(logrus.Fields{
		"entry":    rec.EntryPrice,
		"sig":      bought.Signature,
		"bought":   bought.Base,
		"hold":     t.opts.Exit.Hold,
		"activate": t.opts.Exit.Activation,
		"trailing": t.opts.Exit.Trailing,
		"stop":     t.opts.Exit.StopLoss,
	}).Info("position open")

	cause, err := t.watch(ctx, feed, machine, log)
	if err != nil {
		log.WithError(err).Warn("tick loop stopped; position left open")
		res.Outcome = OutcomeAborted
		return res, err
	}
	res.Cause = cause

	return t.exit(ctx, rec, machine, res, log)
}

// watch feeds ticks to the machine until it asks to exit.
func (t *Trader) watch(ctx context.Context, feed *pricefeed.Feed, m *position.Machine, log logrus.FieldLogger) (domain.ExitCause, error) {
	for {
		reading, ok := feed.Next(ctx)
		if !ok {
			if err := t.clock.Sleep(ctx, t.pollWait()); err != nil {
				return "", err
			}
			continue
		}
		if !reading.Accepted {
			log.WithFields(logrus.Fields{
				"price":  reading.Candidate.Price,
				"source": reading.Candidate.Source,
			}).Debug("tick not accepted")
			if err := t.clock.Sleep(ctx, t.waitAfter(reading.Candidate.Source)); err != nil {
				return "", err
			}
			continue
		}

		d := m.Evaluate(reading.Tick)
		switch d.Action {
		case position.ActionArm:
			log.WithFields(logrus.Fields{"price": d.Price, "high": d.Highest, "stop": d.Stop}).Info("trailing armed")
		case position.ActionExit:
			log.WithFields(logrus.Fields{
				"cause":  d.Cause,
				"price":  d.Price,
				"return": fmt.Sprintf("%.2f%%", d.Return*100),
			}).Info("exit signal")
			return d.Cause, nil
		default:
			log.WithFields(logrus.Fields{
				"price":  d.Price,
				"source": reading.Tick.Source,
				"high":   d.Highest,
				"stop":   d.Stop,
				"action": d.Action,
			}).Debug("tick")
		}

		if err := t.clock.Sleep(ctx, t.waitAfter(reading.Tick.Source)); err != nil {
			return "", err
		}
	}
}

// waitAfter is the pause before the next round: short while the stream
// feeds the loop, the jittered poll interval otherwise.
func (t *Trader) waitAfter(src domain.Source) time.Duration {
	if src == domain.SourceStream {
		return t.opts.StreamInterval
	}
	return t.pollWait()
}

func (t *Trader) pollWait() time.Duration {
	return t.opts.PollInterval + t.opts.Jitter(t.opts.PollJitter)
}

// exit sells, falls back to liquidation, and closes the position.
func (t *Trader) exit(ctx context.Context, rec *domain.PositionRecord, m *position.Machine, res *Result, log logrus.FieldLogger) (*Result, error) {
	sold, err := t.sellAndConfirm(ctx, SellRequest{Mint: rec.Mint, Cause: res.Cause})
	res.Sell = sold
	if err == nil {
		exit, cerr := t.closeLedger(ctx, rec, sold, string(res.Cause))
		res.Exit = exit
		_ = m.Close()
		res.Outcome = OutcomeClosed
		observability.MarkTradeClosed(t.clock.Now().Unix())
		if cerr != nil {
			log.WithError(cerr).Error("ledger close failed")
		}
		return res, nil
	}
	if ctx.Err() != nil {
		res.Outcome = OutcomeAborted
		return res, err
	}

	log.WithError(err).Warn("sell failed; forcing liquidation")
	liq, lerr := t.opts.Liquidator.Liquidate(ctx, liquidator.Request{Mint: rec.Mint, PositionID: rec.ID})
	res.Liquidation = liq
	if lerr != nil {
		res.Outcome = OutcomeStuck
		return res, fmt.Errorf("sell: %v; liquidation: %w", err, lerr)
	}

	exit, cerr := t.closeForced(ctx, rec, liq, string(res.Cause))
	res.Exit = exit
	_ = m.Close()
	res.Outcome = OutcomeLiquidated
	observability.MarkTradeClosed(t.clock.Now().Unix())
	if cerr != nil {
		log.WithError(cerr).Error("ledger close failed")
	}
	return res, nil
}

// Liquidate runs a forced liquidation outside a trade, annotating
// positionID when given.
func (t *Trader) Liquidate(ctx context.Context, mint, positionID string) (*liquidator.Result, error) {
	return t.opts.Liquidator.Liquidate(ctx, liquidator.Request{Mint: mint, PositionID: positionID})
}
