package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	id, mint, name, entry_time, entry_price, entry_tx_id, score,
	exit_time, exit_price, profit_pct, profit_usd, exit_tx_ids, note
`

// Insert adds a new open position. Returns ErrDuplicateKey if the id exists.
func (s *PositionStore) Insert(ctx context.Context, r *domain.PositionRecord) (err error) {
	if r == nil || r.ID == "" || r.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("position_insert", start, err) }(time.Now())

	query := `
		INSERT INTO positions (
			id, mint, name, entry_time, entry_price, entry_tx_id, score, note
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.Mint, r.Name, r.EntryTime, r.EntryPrice, r.EntryTxID, r.Score, r.Note,
	)
	return ledgerError("insert position", err)
}

// GetByID retrieves a position by id. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, id string) (r *domain.PositionRecord, err error) {
	defer func(start time.Time) { observe("position_get", start, err) }(time.Now())

	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	r, err = scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, ledgerError("get position", err)
	}
	return r, nil
}

// FindOpen returns the most recent open position for mint.
func (s *PositionStore) FindOpen(ctx context.Context, mint string) (r *domain.PositionRecord, err error) {
	defer func(start time.Time) { observe("position_find_open", start, err) }(time.Now())

	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE mint = $1 AND exit_time IS NULL
		ORDER BY seq DESC
		LIMIT 1
	`

	r, err = scanPosition(s.pool.QueryRow(ctx, query, mint))
	if err != nil {
		return nil, ledgerError("find open position", err)
	}
	return r, nil
}

// Close records the exit on an open position. The row lock makes a
// concurrent double close report ErrAlreadyClosed.
func (s *PositionStore) Close(ctx context.Context, id string, exit *domain.ExitRecord) (err error) {
	if exit == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("position_close", start, err) }(time.Now())

	txIDs := exit.TxIDs
	if txIDs == nil {
		txIDs = []string{}
	}

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		var exitTime *time.Time
		err := tx.QueryRow(ctx, `SELECT exit_time FROM positions WHERE id = $1 FOR UPDATE`, id).Scan(&exitTime)
		if err != nil {
			return ledgerError("lock position", err)
		}
		if exitTime != nil {
			return storage.ErrAlreadyClosed
		}

		_, err = tx.Exec(ctx, `
			UPDATE positions SET
				exit_time   = $2,
				exit_price  = $3,
				profit_pct  = $4,
				profit_usd  = $5,
				exit_tx_ids = $6,
				note        = $7
			WHERE id = $1
		`, id, exit.ExitTime, exit.ExitPrice, exit.ProfitPct, exit.ProfitUSD, txIDs, exit.Note)
		return ledgerError("close position", err)
	})
}

// Annotate replaces the note and exit txids without closing the position.
func (s *PositionStore) Annotate(ctx context.Context, id, note string, txIDs []string) (err error) {
	defer func(start time.Time) { observe("position_annotate", start, err) }(time.Now())

	if txIDs == nil {
		txIDs = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET note = $2, exit_tx_ids = $3 WHERE id = $1
	`, id, note, txIDs)
	if err != nil {
		return ledgerError("annotate position", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanPosition(row pgx.Row) (*domain.PositionRecord, error) {
	var r domain.PositionRecord
	err := row.Scan(
		&r.ID, &r.Mint, &r.Name, &r.EntryTime, &r.EntryPrice, &r.EntryTxID, &r.Score,
		&r.ExitTime, &r.ExitPrice, &r.ProfitPct, &r.ProfitUSD, &r.ExitTxIDs, &r.Note,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
