package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

var entryTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func createTestPosition(id, mint string, at time.Time) *domain.PositionRecord {
	return &domain.PositionRecord{
		ID:         id,
		Mint:       mint,
		Name:       "TEST",
		EntryTime:  at,
		EntryPrice: 0.00123456,
		EntryTxID:  "sig-" + id,
		Score:      0,
	}
}

func TestPositionStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	pos := createTestPosition("pos-001", "MintA", entryTime)
	require.NoError(t, store.Insert(ctx, pos))

	got, err := store.GetByID(ctx, "pos-001")
	require.NoError(t, err)
	assert.Equal(t, pos.Mint, got.Mint)
	assert.Equal(t, pos.Name, got.Name)
	assert.True(t, pos.EntryTime.Equal(got.EntryTime))
	assert.InDelta(t, pos.EntryPrice, got.EntryPrice, 1e-12)
	assert.Equal(t, pos.EntryTxID, got.EntryTxID)
	assert.True(t, got.IsOpen())
	assert.Nil(t, got.ExitPrice)
	assert.Empty(t, got.ExitTxIDs)
}

func TestPositionStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	pos := createTestPosition("pos-dup", "MintA", entryTime)
	require.NoError(t, store.Insert(ctx, pos))
	assert.ErrorIs(t, store.Insert(ctx, pos), storage.ErrDuplicateKey)
}

func TestPositionStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.FindOpen(ctx, "MintA")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Close(ctx, "missing", &domain.ExitRecord{ExitTime: entryTime})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPositionStore_FindOpenReturnsMostRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	require.NoError(t, store.Insert(ctx, createTestPosition("pos-1", "MintA", entryTime)))
	require.NoError(t, store.Insert(ctx, createTestPosition("pos-2", "MintA", entryTime.Add(time.Minute))))
	require.NoError(t, store.Insert(ctx, createTestPosition("pos-3", "MintB", entryTime.Add(2*time.Minute))))

	got, err := store.FindOpen(ctx, "MintA")
	require.NoError(t, err)
	assert.Equal(t, "pos-2", got.ID)

	require.NoError(t, store.Close(ctx, "pos-2", &domain.ExitRecord{ExitTime: entryTime.Add(time.Hour), ExitPrice: 1}))

	got, err = store.FindOpen(ctx, "MintA")
	require.NoError(t, err)
	assert.Equal(t, "pos-1", got.ID)
}

func TestPositionStore_Close(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	require.NoError(t, store.Insert(ctx, createTestPosition("pos-close", "MintA", entryTime)))

	exit := &domain.ExitRecord{
		ExitTime:  entryTime.Add(10 * time.Minute),
		ExitPrice: 0.0013,
		ProfitPct: 5.3,
		ProfitUSD: 0.1234,
		TxIDs:     []string{"sig-a", "sig-b"},
		Note:      "auto swap (direct) | trailing_hit | px=live",
	}
	require.NoError(t, store.Close(ctx, "pos-close", exit))

	got, err := store.GetByID(ctx, "pos-close")
	require.NoError(t, err)
	assert.False(t, got.IsOpen())
	require.NotNil(t, got.ExitPrice)
	assert.InDelta(t, 0.0013, *got.ExitPrice, 1e-12)
	assert.InDelta(t, 5.3, *got.ProfitPct, 1e-9)
	assert.InDelta(t, 0.1234, *got.ProfitUSD, 1e-9)
	assert.Equal(t, []string{"sig-a", "sig-b"}, got.ExitTxIDs)
	assert.Equal(t, exit.Note, got.Note)

	assert.ErrorIs(t, store.Close(ctx, "pos-close", exit), storage.ErrAlreadyClosed)
}

func TestPositionStore_Annotate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	require.NoError(t, store.Insert(ctx, createTestPosition("pos-note", "MintA", entryTime)))
	require.NoError(t, store.Annotate(ctx, "pos-note", "forced close success", []string{"sig-1"}))

	got, err := store.GetByID(ctx, "pos-note")
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
	assert.Equal(t, "forced close success", got.Note)
	assert.Equal(t, []string{"sig-1"}, got.ExitTxIDs)

	assert.ErrorIs(t, store.Annotate(ctx, "missing", "x", nil), storage.ErrNotFound)
}

func TestPositionStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	assert.ErrorIs(t, store.Insert(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Insert(ctx, &domain.PositionRecord{ID: "x"}), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Close(ctx, "x", nil), storage.ErrInvalidInput)

	zero := createTestPosition("pos-zero", "MintA", entryTime)
	zero.EntryPrice = 0
	err := store.Insert(ctx, zero)
	assert.ErrorIs(t, err, storage.ErrInvalidInput, "schema rejects a non-positive entry price")
	assert.Contains(t, err.Error(), "entry_price")
}
