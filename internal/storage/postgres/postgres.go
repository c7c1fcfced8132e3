// Package postgres keeps the trade ledger in PostgreSQL: the curated token
// list, one row per position and the latest accepted price per mint.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/storage"
)

const applicationName = "solana-swap-trader"

// SQLSTATE codes the ledger schema can raise on bad rows.
const (
	sqlStateNotNull = "23502"
	sqlStateUnique  = "23505"
	sqlStateCheck   = "23514"
)

// Pool is the shared connection pool of the ledger stores.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings the server. Sessions are tagged with
// the application name unless the DSN sets one.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// inTx runs fn inside a transaction and commits when fn succeeds.
func (p *Pool) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// ledgerError maps driver errors onto the storage sentinels. A missing row
// is ErrNotFound, a reused position id is ErrDuplicateKey and a row the
// schema rejects is ErrInvalidInput naming the constraint. Anything else
// is wrapped with op.
func ledgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUnique:
			return storage.ErrDuplicateKey
		case sqlStateCheck, sqlStateNotNull:
			return fmt.Errorf("%s: %w (%s)", op, storage.ErrInvalidInput, constraintOf(pgErr))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func constraintOf(e *pgconn.PgError) string {
	if e.ConstraintName != "" {
		return e.ConstraintName
	}
	return e.ColumnName
}

// observe records ledger query timings. Lookups that find nothing and
// rejected closes are answers, not failures.
func observe(op string, start time.Time, err error) {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAlreadyClosed) {
		err = nil
	}
	observability.RecordDBQuery("postgres", op, time.Since(start).Seconds(), err)
}
