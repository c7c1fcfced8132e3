package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// TokenStore implements storage.TokenStore on SQLite.
type TokenStore struct {
	db *DB
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(db *DB) *TokenStore {
	return &TokenStore{db: db}
}

var _ storage.TokenStore = (*TokenStore)(nil)

// Get retrieves token info by mint. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(ctx context.Context, mint string) (t *domain.TokenInfo, err error) {
	defer func(start time.Time) { observe("token_get", start, err) }(time.Now())

	var row tokenRow
	if err = s.db.WithContext(ctx).First(&row, "mint = ?", mint).Error; err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &domain.TokenInfo{
		Mint:       row.Mint,
		Name:       row.Name,
		Decimals:   row.Decimals,
		QuoteVault: row.QuoteVault,
		TokenVault: row.TokenVault,
		RouteBase:  domain.RouteBase(row.RouteBase),
	}, nil
}

// Upsert inserts or replaces token info.
func (s *TokenStore) Upsert(ctx context.Context, t *domain.TokenInfo) (err error) {
	if t == nil || t.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("token_upsert", start, err) }(time.Now())

	row := tokenRow{
		Mint:       t.Mint,
		Name:       t.Name,
		Decimals:   t.Decimals,
		QuoteVault: t.QuoteVault,
		TokenVault: t.TokenVault,
		RouteBase:  string(t.RouteBase),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}
