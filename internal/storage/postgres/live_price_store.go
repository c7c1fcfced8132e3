package postgres

import (
	"context"
	"time"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// LivePriceStore implements storage.LivePriceStore using PostgreSQL.
type LivePriceStore struct {
	pool *Pool
}

// NewLivePriceStore creates a new LivePriceStore.
func NewLivePriceStore(pool *Pool) *LivePriceStore {
	return &LivePriceStore{pool: pool}
}

var _ storage.LivePriceStore = (*LivePriceStore)(nil)

// Upsert replaces the live price of p.Mint.
func (s *LivePriceStore) Upsert(ctx context.Context, p *domain.LivePrice) (err error) {
	if p == nil || p.Mint == "" || p.PriceUSD <= 0 {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("live_price_upsert", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO live_prices (mint, price_usd, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (mint) DO UPDATE SET
			price_usd  = EXCLUDED.price_usd,
			updated_at = EXCLUDED.updated_at
	`, p.Mint, p.PriceUSD, p.UpdatedAt)
	return ledgerError("upsert live price", err)
}

// GetFresh returns the live price if it is at most maxAge old at now.
func (s *LivePriceStore) GetFresh(ctx context.Context, mint string, maxAge time.Duration, now time.Time) (p *domain.LivePrice, err error) {
	defer func(start time.Time) { observe("live_price_get", start, err) }(time.Now())

	var lp domain.LivePrice
	err = s.pool.QueryRow(ctx, `
		SELECT mint, price_usd, updated_at
		FROM live_prices
		WHERE mint = $1 AND updated_at >= $2
	`, mint, now.Add(-maxAge)).Scan(&lp.Mint, &lp.PriceUSD, &lp.UpdatedAt)
	if err != nil {
		return nil, ledgerError("get live price", err)
	}
	return &lp, nil
}
