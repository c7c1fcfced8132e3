package trader

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/router"
	"solana-swap-trader/internal/storage"
	"solana-swap-trader/internal/swap"
)

// ErrNoBalance is returned when there is nothing to sell.
var ErrNoBalance = errors.New("no token balance to sell")

// SellRequest asks for the whole balance of Mint to be sold.
type SellRequest struct {
	Mint  string
	Cause domain.ExitCause
}

// SellResult is what the sell task reports back.
type SellResult struct {
	TxID        string
	Route       domain.RouteBase // asset received
	QtyRaw      uint64
	QtyUI       float64
	OutAmount   uint64
	PriceOutEst float64 // USD per token implied by the quote, 0 if unknown

	// Indeterminate is set when confirmation timed out. The transaction
	// may still land.
	Indeterminate bool
}

type sellOutcome struct {
	res *SellResult
	err error
}

// runSell runs the sell as a task and waits at most SellTimeout for its
// result. The task runs under the kill deadline, so an overrunning task
// stops at its next context check and cannot submit after the deadline.
// A request already in flight is not aborted.
func (t *Trader) runSell(ctx context.Context, req SellRequest) (*SellResult, error) {
	kill, cancel := context.WithTimeout(ctx, t.opts.SellTimeout)
	defer cancel()

	done := make(chan sellOutcome, 1)
	go func() {
		res, err := t.sell(kill, req)
		done <- sellOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-kill.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sell task exceeded %s", t.opts.SellTimeout)
	}
}

// sellAndConfirm sells and waits for the signature. A confirmation
// timeout is indeterminate and reported as success; an on-chain failure is
// a sell failure.
func (t *Trader) sellAndConfirm(ctx context.Context, req SellRequest) (*SellResult, error) {
	sold, err := t.runSell(ctx, req)
	if err != nil {
		return nil, err
	}
	log := t.log.WithFields(logrus.Fields{"mint": req.Mint, "sig": sold.TxID})

	if _, err := t.opts.Confirmer.Confirm(ctx, sold.TxID); err != nil {
		if errors.Is(err, domain.ErrConfirmationTimeout) {
			sold.Indeterminate = true
			log.WithError(err).Warn("sell confirmation indeterminate")
			return sold, nil
		}
		return sold, fmt.Errorf("sell %s: %w", sold.TxID, err)
	}
	log.Info("sell confirmed")
	return sold, nil
}

// sell quotes the whole balance toward USDC and SOL at once, preferring
// the token's route base, then builds and submits the winner.
func (t *Trader) sell(ctx context.Context, req SellRequest) (*SellResult, error) {
	prefer := domain.RouteBaseUSDC
	token, err := t.opts.Tokens.Get(ctx, req.Mint)
	switch {
	case err == nil && token.RouteBase.IsValid():
		prefer = token.RouteBase
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		t.log.WithError(err).WithField("mint", req.Mint).Warn("token lookup failed; preferring USDC")
	}

	bal, err := t.opts.Balances.GetTokenBalance(ctx, t.opts.Wallet, req.Mint)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if bal.Amount == 0 {
		return nil, ErrNoBalance
	}
	qty := bal.UIAmount()
	log := t.log.WithFields(logrus.Fields{"mint": req.Mint, "cause": req.Cause, "qty": qty, "raw": bal.Amount, "prefer": prefer})
	log.Info("sell started")

	bases := []domain.RouteBase{prefer, prefer.Other()}
	build := t.opts.Builder.Hook(swap.Options{WrapAndUnwrapSOL: true, Timeout: router.SellSwapTimeout})
	targets := make([]router.Target, len(bases))
	for i, b := range bases {
		targets[i] = router.Target{
			Name: string(b),
			Request: router.Request{
				InputMint:  req.Mint,
				OutputMint: b.Mint(),
				Amount:     bal.Amount,
				Policy:     router.SellPolicy(t.opts.SellSlippageBps, t.opts.SellMaxAccounts),
				Build:      build,
			},
		}
	}

	routed, idx, err := t.opts.Router.RouteAny(ctx, targets)
	if err != nil {
		return nil, err
	}
	if routed.Tx == nil {
		return nil, errors.New("sell: route accepted without a transaction")
	}
	base := bases[idx]
	est := t.estimateExitPrice(ctx, routed.Quote.OutAmount, base, qty)

	sent, err := t.opts.Submitter.Submit(ctx, routed.Tx)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"route":      base,
		"sig":        sent.Signature,
		"out":        routed.Quote.OutAmount,
		"price_est":  est,
		"non_direct": routed.Quote.NonDirect,
	}).Info("sell sent")

	return &SellResult{
		TxID:        sent.Signature,
		Route:       base,
		QtyRaw:      bal.Amount,
		QtyUI:       qty,
		OutAmount:   routed.Quote.OutAmount,
		PriceOutEst: est,
	}, nil
}

// estimateExitPrice is the USD value per token implied by a quote's output.
func (t *Trader) estimateExitPrice(ctx context.Context, outRaw uint64, base domain.RouteBase, qty float64) float64 {
	if outRaw == 0 || qty <= 0 {
		return 0
	}
	if base == domain.RouteBaseUSDC {
		return float64(outRaw) / math.Pow10(domain.USDCDecimals) / qty
	}
	sol, ok := t.opts.Poller.SOLPrice(ctx)
	if !ok || sol <= 0 {
		return 0
	}
	return float64(outRaw) / math.Pow10(domain.SOLDecimals) * sol / qty
}

// Sell sells the whole balance of mint outside a trade and closes the most
// recent open ledger row for it, if any.
func (t *Trader) Sell(ctx context.Context, mint string, cause domain.ExitCause) (*Result, error) {
	res := &Result{Cause: cause}
	sold, err := t.sellAndConfirm(ctx, SellRequest{Mint: mint, Cause: cause})
	res.Sell = sold
	if err != nil {
		res.Outcome = OutcomeAborted
		return res, err
	}
	res.Outcome = OutcomeClosed

	rec, err := t.opts.Positions.FindOpen(ctx, mint)
	if errors.Is(err, storage.ErrNotFound) {
		t.log.WithField("mint", mint).Info("no open position to close")
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("find open position: %w", err)
	}
	res.PositionID = rec.ID
	res.EntryPrice = rec.EntryPrice

	exit, err := t.closeLedger(ctx, rec, sold, string(cause))
	res.Exit = exit
	if err != nil {
		return res, err
	}
	observability.MarkTradeClosed(t.clock.Now().Unix())
	return res, nil
}
