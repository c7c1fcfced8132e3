package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/liquidator"
	"solana-swap-trader/internal/storage"
)

// PriceSource names where an exit price came from.
type PriceSource string

const (
	PriceLive     PriceSource = "live"
	PriceEstimate PriceSource = "swap_estimate"
	PriceAPI      PriceSource = "price_api"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// quantizeEntry rounds an entry price half-up to 8 decimals.
func quantizeEntry(px float64) float64 {
	v, _ := decimal.NewFromFloat(px).Round(8).Float64()
	return v
}

// profit returns the percent return rounded to 2 decimals and the USD PnL
// rounded to 4. Both are zero without two positive prices; the USD PnL is
// zero when qty is unknown.
func profit(entry, exit, qty float64) (pct, usd float64) {
	if entry <= 0 || exit <= 0 {
		return 0, 0
	}
	in, out := decimal.NewFromFloat(entry), decimal.NewFromFloat(exit)
	pct, _ = out.Div(in).Sub(one).Mul(hundred).Round(2).Float64()
	if qty > 0 {
		usd, _ = decimal.NewFromFloat(qty).Mul(out.Sub(in)).Round(4).Float64()
	}
	return pct, usd
}

// exitPrice walks the fallback chain: a fresh live price, the swap
// estimate, then the price endpoint.
func (t *Trader) exitPrice(ctx context.Context, mint string, estimate float64) (float64, PriceSource) {
	if t.opts.LivePrices != nil {
		lp, err := t.opts.LivePrices.GetFresh(ctx, mint, t.opts.ExitPriceMaxAge, t.clock.Now())
		switch {
		case err == nil && lp.PriceUSD > 0:
			return lp.PriceUSD, PriceLive
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			t.log.WithError(err).WithField("mint", mint).Debug("live price lookup failed")
		}
	}
	if estimate > 0 {
		return estimate, PriceEstimate
	}
	if px, ok := t.opts.Poller.Price(ctx, mint); ok && px > 0 {
		return px, PriceAPI
	}
	return 0, ""
}

func exitNote(route domain.RouteBase, cause string, src PriceSource) string {
	parts := []string{fmt.Sprintf("auto swap (%s)", route)}
	if cause != "" {
		parts = append(parts, cause)
	}
	if src != "" {
		parts = append(parts, "px="+string(src))
	}
	return strings.Join(parts, " | ")
}

// closeLedger records a completed sell on rec.
func (t *Trader) closeLedger(ctx context.Context, rec *domain.PositionRecord, sold *SellResult, cause string) (*domain.ExitRecord, error) {
	px, src := t.exitPrice(ctx, rec.Mint, sold.PriceOutEst)
	exit := t.exitRecord(rec, px, sold.QtyUI)
	exit.TxIDs = []string{sold.TxID}
	exit.Note = exitNote(sold.Route, cause, src)
	return exit, t.writeExit(ctx, rec, exit, src)
}

// closeForced records an exit completed by forced liquidation. There is no
// swap estimate and the sold quantity is unknown, so only the percent
// return is meaningful.
func (t *Trader) closeForced(ctx context.Context, rec *domain.PositionRecord, liq *liquidator.Result, cause string) (*domain.ExitRecord, error) {
	px, src := t.exitPrice(ctx, rec.Mint, 0)
	exit := t.exitRecord(rec, px, 0)
	exit.TxIDs = liq.TxIDs
	note := []string{liquidator.NoteSuccess, cause}
	if src != "" {
		note = append(note, "px="+string(src))
	}
	exit.Note = strings.Join(note, " | ")
	return exit, t.writeExit(ctx, rec, exit, src)
}

func (t *Trader) exitRecord(rec *domain.PositionRecord, px, qty float64) *domain.ExitRecord {
	pct, usd := profit(rec.EntryPrice, px, qty)
	rounded, _ := decimal.NewFromFloat(px).Round(6).Float64()
	return &domain.ExitRecord{
		ExitTime:  t.clock.Now(),
		ExitPrice: rounded,
		ProfitPct: pct,
		ProfitUSD: usd,
	}
}

func (t *Trader) writeExit(ctx context.Context, rec *domain.PositionRecord, exit *domain.ExitRecord, src PriceSource) error {
	if err := t.opts.Positions.Close(context.WithoutCancel(ctx), rec.ID, exit); err != nil {
		return fmt.Errorf("close position %s: %w", rec.ID, err)
	}
	t.log.WithFields(logrus.Fields{
		"position":   rec.ID,
		"mint":       rec.Mint,
		"price_out":  exit.ExitPrice,
		"profit_pct": exit.ProfitPct,
		"profit_usd": exit.ProfitUSD,
		"source":     src,
	}).Info("position closed")
	return nil
}
