package postgres

import (
	"context"
	"time"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

var _ storage.TokenStore = (*TokenStore)(nil)

// Get retrieves token info by mint. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(ctx context.Context, mint string) (t *domain.TokenInfo, err error) {
	defer func(start time.Time) { observe("token_get", start, err) }(time.Now())

	var (
		info  domain.TokenInfo
		route string
	)
	err = s.pool.QueryRow(ctx, `
		SELECT mint, name, decimals, quote_vault, token_vault, route_base
		FROM tokens
		WHERE mint = $1
	`, mint).Scan(&info.Mint, &info.Name, &info.Decimals, &info.QuoteVault, &info.TokenVault, &route)
	if err != nil {
		return nil, ledgerError("get token", err)
	}
	info.RouteBase = domain.RouteBase(route)
	return &info, nil
}

// Upsert inserts or replaces token info.
func (s *TokenStore) Upsert(ctx context.Context, t *domain.TokenInfo) (err error) {
	if t == nil || t.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("token_upsert", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tokens (mint, name, decimals, quote_vault, token_vault, route_base)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (mint) DO UPDATE SET
			name        = EXCLUDED.name,
			decimals    = EXCLUDED.decimals,
			quote_vault = EXCLUDED.quote_vault,
			token_vault = EXCLUDED.token_vault,
			route_base  = EXCLUDED.route_base
	`, t.Mint, t.Name, t.Decimals, t.QuoteVault, t.TokenVault, string(t.RouteBase))
	return ledgerError("upsert token", err)
}
