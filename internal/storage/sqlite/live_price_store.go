package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// LivePriceStore implements storage.LivePriceStore on SQLite.
type LivePriceStore struct {
	db *DB
}

// NewLivePriceStore creates a new LivePriceStore.
func NewLivePriceStore(db *DB) *LivePriceStore {
	return &LivePriceStore{db: db}
}

var _ storage.LivePriceStore = (*LivePriceStore)(nil)

// Upsert replaces the live price of p.Mint.
func (s *LivePriceStore) Upsert(ctx context.Context, p *domain.LivePrice) (err error) {
	if p == nil || p.Mint == "" || p.PriceUSD <= 0 {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("live_price_upsert", start, err) }(time.Now())

	row := livePriceRow{Mint: p.Mint, PriceUSD: p.PriceUSD, UpdatedAt: p.UpdatedAt.UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert live price: %w", err)
	}
	return nil
}

// GetFresh returns the live price if it is at most maxAge old at now.
func (s *LivePriceStore) GetFresh(ctx context.Context, mint string, maxAge time.Duration, now time.Time) (p *domain.LivePrice, err error) {
	defer func(start time.Time) { observe("live_price_get", start, err) }(time.Now())

	var row livePriceRow
	if err = s.db.WithContext(ctx).First(&row, "mint = ?", mint).Error; err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get live price: %w", err)
	}
	if now.Sub(row.UpdatedAt) > maxAge {
		return nil, storage.ErrNotFound
	}
	return &domain.LivePrice{Mint: row.Mint, PriceUSD: row.PriceUSD, UpdatedAt: row.UpdatedAt}, nil
}
