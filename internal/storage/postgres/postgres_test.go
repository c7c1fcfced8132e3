package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"solana-swap-trader/internal/storage"
)

func TestLedgerError(t *testing.T) {
	assert.NoError(t, ledgerError("insert position", nil))
	assert.ErrorIs(t, ledgerError("get position", pgx.ErrNoRows), storage.ErrNotFound)
	assert.ErrorIs(t, ledgerError("insert position", &pgconn.PgError{Code: sqlStateUnique}), storage.ErrDuplicateKey)

	err := ledgerError("insert position", &pgconn.PgError{Code: sqlStateCheck, ConstraintName: "positions_entry_price_check"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Contains(t, err.Error(), "positions_entry_price_check")

	err = ledgerError("upsert token", &pgconn.PgError{Code: sqlStateNotNull, ColumnName: "quote_vault"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Contains(t, err.Error(), "quote_vault")

	boom := errors.New("connection reset")
	err = ledgerError("close position", boom)
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "close position: connection reset")
}
