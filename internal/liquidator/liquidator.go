// Package liquidator force-sells a stuck token balance toward SOL with
// escalating slippage until the balance is gone or attempts run out.
package liquidator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/router"
	"solana-swap-trader/internal/solana"
	"solana-swap-trader/internal/storage"
	"solana-swap-trader/internal/submit"
)

// Defaults.
const (
	DefaultDelay       = 3 * time.Second
	DefaultSlippageBps = 30

	errorBackoffStep  = 0.25
	errorJitter       = 700 * time.Millisecond
	submitBackoffStep = 0.15
	submitJitter      = 500 * time.Millisecond
)

// Ledger notes.
const (
	NoteSuccess = "forced close success"
	NoteFailure = "forced close failure"
)

// BalanceReader reads the wallet's raw balance of a mint.
type BalanceReader interface {
	GetTokenBalance(ctx context.Context, owner, mint string) (*solana.TokenBalance, error)
}

// Router finds a route for one request.
type Router interface {
	Route(ctx context.Context, req router.Request) (*router.Result, error)
}

// Submitter sends a signed transaction.
type Submitter interface {
	Submit(ctx context.Context, tx *domain.SignedTransaction) (*submit.Result, error)
}

// Confirmer waits for a signature to settle.
type Confirmer interface {
	Confirm(ctx context.Context, signature string) (*solana.SignatureStatus, error)
}

// Config configures Liquidator.
type Config struct {
	Wallet      string
	MaxAttempts int
	Delay       time.Duration
	Plan        domain.LiquidationPlan // nil uses the default plan from SlippageBps
	SlippageBps int

	// Build signs the accepted quote. Required.
	Build router.Builder

	// Confirm, when set, is waited on after each submit. Its outcome is
	// logged only; the balance decides success.
	Confirm Confirmer

	// Ledger, when set, receives the outcome note for Request.PositionID.
	Ledger storage.PositionStore

	Clock  clock.Clock
	Jitter func(max time.Duration) time.Duration
	Logger logrus.FieldLogger
}

// Request is one liquidation.
type Request struct {
	Mint       string
	PositionID string // optional ledger row to annotate
}

// Result summarizes a liquidation run.
type Result struct {
	Success   bool
	TxIDs     []string
	Attempts  int // loop iterations that ran before success or exhaustion
	Remaining uint64
}

// Liquidator runs forced liquidations.
type Liquidator struct {
	balances BalanceReader
	router   Router
	submit   Submitter
	cfg      Config
	log      logrus.FieldLogger
}

// New creates a Liquidator with defaults applied.
func New(balances BalanceReader, r Router, s Submitter, cfg Config) *Liquidator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultLiquidationAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = DefaultSlippageBps
	}
	if len(cfg.Plan) == 0 {
		cfg.Plan = domain.NewLiquidationPlan(cfg.SlippageBps, cfg.MaxAttempts)
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
	return &Liquidator{
		balances: balances,
		router:   r,
		submit:   s,
		cfg:      cfg,
		log:      cfg.Logger.WithField("component", "liquidator"),
	}
}

// Liquidate sells the whole balance of req.Mint toward SOL.
//
// Success means the final on-chain balance is exactly zero, no matter how
// many transactions were sent. Otherwise the returned error is
// *domain.BalanceNonZeroAfterLiquidationError and the Result is still set.
func (l *Liquidator) Liquidate(ctx context.Context, req Request) (*Result, error) {
	if req.Mint == "" {
		return nil, fmt.Errorf("liquidate: mint is required")
	}
	log := l.log.WithFields(logrus.Fields{"mint": req.Mint, "position": req.PositionID})
	log.WithField("plan", l.cfg.Plan).Warn("forced liquidation started")

	res := &Result{}
	for i := 1; i <= l.cfg.MaxAttempts; i++ {
		observability.RecordLiquidationAttempt()
		alog := log.WithField("attempt", i)

		bal, err := l.balances.GetTokenBalance(ctx, l.cfg.Wallet, req.Mint)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			alog.WithError(err).Warn("balance read failed")
			if err := l.sleep(ctx, i, errorBackoffStep, errorJitter); err != nil {
				return res, err
			}
			continue
		}
		if bal.Amount == 0 {
			res.Attempts = i - 1
			return l.finish(ctx, req, res, 0, log)
		}

		slippage := l.cfg.Plan.At(i - 1)
		alog = alog.WithFields(logrus.Fields{"slippage_bps": slippage, "amount": bal.Amount})

		sig, err := l.attempt(ctx, req.Mint, bal.Amount, slippage)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			alog.WithError(err).Warn("liquidation attempt failed")
			if err := l.sleep(ctx, i, errorBackoffStep, errorJitter); err != nil {
				return res, err
			}
			continue
		}

		res.TxIDs = append(res.TxIDs, sig)
		alog.WithField("sig", sig).Info("liquidation swap sent")

		if l.cfg.Confirm != nil {
			if _, err := l.cfg.Confirm.Confirm(ctx, sig); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				alog.WithError(err).WithField("sig", sig).Warn("liquidation swap not confirmed")
			}
		}

		if err := l.sleep(ctx, i, submitBackoffStep, submitJitter); err != nil {
			return res, err
		}
	}
	res.Attempts = l.cfg.MaxAttempts

	bal, err := l.balances.GetTokenBalance(ctx, l.cfg.Wallet, req.Mint)
	if err != nil {
		l.annotate(ctx, req, NoteFailure, res.TxIDs, log)
		observability.RecordLiquidation(false)
		return res, fmt.Errorf("final balance check: %w", err)
	}
	return l.finish(ctx, req, res, bal.Amount, log)
}

// attempt quotes the full amount toward SOL on a direct route, builds and
// submits it, and returns the signature.
func (l *Liquidator) attempt(ctx context.Context, mint string, amount uint64, slippageBps int) (string, error) {
	if l.cfg.Build == nil {
		return "", errors.New("liquidate: no swap builder configured")
	}
	routed, err := l.router.Route(ctx, router.Request{
		InputMint:  mint,
		OutputMint: domain.SOLMint,
		Amount:     amount,
		Policy:     router.LiquidationPolicy(slippageBps),
		Build:      l.cfg.Build,
	})
	if err != nil {
		return "", err
	}
	if routed.Tx == nil {
		return "", errors.New("liquidate: route accepted without a transaction")
	}

	sent, err := l.submit.Submit(ctx, routed.Tx)
	if err != nil {
		return "", err
	}
	return sent.Signature, nil
}

func (l *Liquidator) finish(ctx context.Context, req Request, res *Result, remaining uint64, log logrus.FieldLogger) (*Result, error) {
	res.Remaining = remaining
	res.Success = remaining == 0
	observability.RecordLiquidation(res.Success)

	fields := logrus.Fields{"txids": strings.Join(res.TxIDs, ","), "attempts": res.Attempts, "remaining": remaining}
	if res.Success {
		l.annotate(ctx, req, NoteSuccess, res.TxIDs, log)
		log.WithFields(fields).Info("forced liquidation complete")
		return res, nil
	}
	l.annotate(ctx, req, NoteFailure, res.TxIDs, log)
	log.WithFields(fields).Error("forced liquidation left a balance")
	return res, &domain.BalanceNonZeroAfterLiquidationError{Mint: req.Mint, Remaining: remaining, TxIDs: res.TxIDs}
}

func (l *Liquidator) annotate(ctx context.Context, req Request, note string, txIDs []string, log logrus.FieldLogger) {
	if l.cfg.Ledger == nil || req.PositionID == "" {
		return
	}
	if err := l.cfg.Ledger.Annotate(context.WithoutCancel(ctx), req.PositionID, note, txIDs); err != nil {
		log.WithError(err).Error("ledger note failed")
	}
}

// sleep waits delay*(1+step*(i-1)) plus up to jitter.
func (l *Liquidator) sleep(ctx context.Context, i int, step float64, jitter time.Duration) error {
	d := time.Duration(float64(l.cfg.Delay) * (1 + step*float64(i-1)))
	return l.cfg.Clock.Sleep(ctx, d+l.cfg.Jitter(jitter))
}
