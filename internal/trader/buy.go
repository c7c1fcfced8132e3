package trader

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/router"
	"solana-swap-trader/internal/swap"
)

// ErrNoSOLPrice is returned when a SOL-base buy cannot size its input.
var ErrNoSOLPrice = errors.New("no SOL/USD price")

type buyResult struct {
	Base      domain.RouteBase
	Signature string
	Quote     *domain.Quote
}

// buy tries the token's preferred base, then the other one.
func (t *Trader) buy(ctx context.Context, token *domain.TokenInfo) (*buyResult, error) {
	first, err := t.buyIn(ctx, token, token.RouteBase)
	if err == nil {
		return first, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	alt := token.RouteBase.Other()
	t.log.WithError(err).WithFields(logrus.Fields{
		"mint": token.Mint,
		"base": token.RouteBase,
		"alt":  alt,
	}).Warn("buy failed; trying other base")

	second, err2 := t.buyIn(ctx, token, alt)
	if err2 != nil {
		return nil, fmt.Errorf("buy via %s: %v; via %s: %w", token.RouteBase, err, alt, err2)
	}
	return second, nil
}

func (t *Trader) buyIn(ctx context.Context, token *domain.TokenInfo, base domain.RouteBase) (*buyResult, error) {
	amount, err := t.buyAmount(ctx, base)
	if err != nil {
		return nil, err
	}

	routed, err := t.opts.Router.Route(ctx, router.Request{
		InputMint:  base.Mint(),
		OutputMint: token.Mint,
		Amount:     amount,
		Policy:     router.BuyPolicy(base),
		Build: t.opts.Builder.Hook(swap.Options{
			WrapAndUnwrapSOL:  base == domain.RouteBaseSOL,
			UseSharedAccounts: base == domain.RouteBaseUSDC,
			Timeout:           router.BuySwapTimeout,
		}),
	})
	if err != nil {
		return nil, err
	}
	if routed.Tx == nil {
		return nil, errors.New("buy: route accepted without a transaction")
	}

	sent, err := t.opts.Submitter.Submit(ctx, routed.Tx)
	if err != nil {
		return nil, err
	}
	t.log.WithFields(logrus.Fields{
		"mint":    token.Mint,
		"base":    base,
		"amount":  amount,
		"out":     routed.Quote.OutAmount,
		"label":   routed.Quote.Label(),
		"variant": routed.Variant.String(),
		"sig":     sent.Signature,
	}).Info("buy sent")
	return &buyResult{Base: base, Signature: sent.Signature, Quote: routed.Quote}, nil
}

// buyAmount converts the USD budget to base units of the input asset.
func (t *Trader) buyAmount(ctx context.Context, base domain.RouteBase) (uint64, error) {
	if base == domain.RouteBaseUSDC {
		return uint64(math.Round(t.opts.AmountUSDC * 1e6)), nil
	}
	sol, ok := t.opts.Poller.SOLPrice(ctx)
	if !ok || sol <= 0 {
		return 0, ErrNoSOLPrice
	}
	lamports := uint64(t.opts.AmountUSDC / sol * 1e9)
	if lamports == 0 {
		return 0, fmt.Errorf("buy amount %.6f USD is zero lamports at %.4f", t.opts.AmountUSDC, sol)
	}
	return lamports, nil
}
