package storage

import (
	"context"
	"time"

	"solana-swap-trader/internal/domain"
)

// PositionStore provides access to the positions ledger.
type PositionStore interface {
	// Insert adds a new open position. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, r *domain.PositionRecord) error

	// GetByID retrieves a position by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.PositionRecord, error)

	// FindOpen returns the most recent position for mint with no exit recorded.
	// Returns ErrNotFound when the mint has no open position.
	FindOpen(ctx context.Context, mint string) (*domain.PositionRecord, error)

	// Close records the exit on an open position.
	// Returns ErrNotFound if id does not exist and ErrAlreadyClosed if it was closed before.
	Close(ctx context.Context, id string, exit *domain.ExitRecord) error

	// Annotate replaces the note and exit transaction ids of a position
	// without closing it. Returns ErrNotFound if id does not exist.
	Annotate(ctx context.Context, id, note string, txIDs []string) error
}

// TokenStore provides read access to the curated token list.
type TokenStore interface {
	// Get retrieves token info by mint. Returns ErrNotFound if not exists.
	Get(ctx context.Context, mint string) (*domain.TokenInfo, error)

	// Upsert inserts or replaces token info. Curation happens elsewhere;
	// this is used to seed tests and local runs.
	Upsert(ctx context.Context, t *domain.TokenInfo) error
}

// LivePriceStore keeps the latest accepted price per mint.
type LivePriceStore interface {
	// Upsert replaces the live price of p.Mint.
	Upsert(ctx context.Context, p *domain.LivePrice) error

	// GetFresh returns the live price if it was updated within maxAge of now.
	// Returns ErrNotFound when missing or stale.
	GetFresh(ctx context.Context, mint string, maxAge time.Duration, now time.Time) (*domain.LivePrice, error)
}

// TickSink receives price tick history.
type TickSink interface {
	// InsertTicks appends points. Order within the batch is preserved.
	InsertTicks(ctx context.Context, points []*domain.PricePoint) error
}
