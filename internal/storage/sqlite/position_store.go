package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// PositionStore implements storage.PositionStore on SQLite.
type PositionStore struct {
	db *DB
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(db *DB) *PositionStore {
	return &PositionStore{db: db}
}

var _ storage.PositionStore = (*PositionStore)(nil)

// Insert adds a new open position. Returns ErrDuplicateKey if the id exists.
func (s *PositionStore) Insert(ctx context.Context, r *domain.PositionRecord) (err error) {
	if r == nil || r.ID == "" || r.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("position_insert", start, err) }(time.Now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&positionRow{}).Where("id = ?", r.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("check position id: %w", err)
		}
		if n > 0 {
			return storage.ErrDuplicateKey
		}
		row := toPositionRow(r)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a position by id. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, id string) (r *domain.PositionRecord, err error) {
	defer func(start time.Time) { observe("position_get", start, err) }(time.Now())

	var row positionRow
	err = s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return row.toDomain(), nil
}

// FindOpen returns the most recent open position for mint.
func (s *PositionStore) FindOpen(ctx context.Context, mint string) (r *domain.PositionRecord, err error) {
	defer func(start time.Time) { observe("position_find_open", start, err) }(time.Now())

	var row positionRow
	err = s.db.WithContext(ctx).
		Where("mint = ? AND exit_time IS NULL", mint).
		Order("seq DESC").
		First(&row).Error
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find open position: %w", err)
	}
	return row.toDomain(), nil
}

// Close records the exit on an open position.
func (s *PositionStore) Close(ctx context.Context, id string, exit *domain.ExitRecord) (err error) {
	if exit == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("position_close", start, err) }(time.Now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row positionRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			if isNotFound(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("load position: %w", err)
		}
		if row.ExitTime != nil {
			return storage.ErrAlreadyClosed
		}

		res := tx.Model(&positionRow{}).
			Where("id = ? AND exit_time IS NULL", id).
			Updates(map[string]interface{}{
				"exit_time":   exit.ExitTime,
				"exit_price":  exit.ExitPrice,
				"profit_pct":  exit.ProfitPct,
				"profit_usd":  exit.ProfitUSD,
				"exit_tx_ids": joinTxIDs(exit.TxIDs),
				"note":        exit.Note,
			})
		if res.Error != nil {
			return fmt.Errorf("close position: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return storage.ErrAlreadyClosed
		}
		return nil
	})
}

// Annotate replaces the note and exit txids without closing the position.
func (s *PositionStore) Annotate(ctx context.Context, id, note string, txIDs []string) (err error) {
	defer func(start time.Time) { observe("position_annotate", start, err) }(time.Now())

	res := s.db.WithContext(ctx).Model(&positionRow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"note": note, "exit_tx_ids": joinTxIDs(txIDs)})
	if res.Error != nil {
		return fmt.Errorf("annotate position: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func toPositionRow(r *domain.PositionRecord) positionRow {
	return positionRow{
		ID:         r.ID,
		Mint:       r.Mint,
		Name:       r.Name,
		EntryTime:  r.EntryTime,
		EntryPrice: r.EntryPrice,
		EntryTxID:  r.EntryTxID,
		Score:      r.Score,
		ExitTime:   r.ExitTime,
		ExitPrice:  r.ExitPrice,
		ProfitPct:  r.ProfitPct,
		ProfitUSD:  r.ProfitUSD,
		ExitTxIDs:  joinTxIDs(r.ExitTxIDs),
		Note:       r.Note,
	}
}

func (row *positionRow) toDomain() *domain.PositionRecord {
	return &domain.PositionRecord{
		ID:         row.ID,
		Mint:       row.Mint,
		Name:       row.Name,
		EntryTime:  row.EntryTime,
		EntryPrice: row.EntryPrice,
		EntryTxID:  row.EntryTxID,
		Score:      row.Score,
		ExitTime:   row.ExitTime,
		ExitPrice:  row.ExitPrice,
		ProfitPct:  row.ProfitPct,
		ProfitUSD:  row.ProfitUSD,
		ExitTxIDs:  splitTxIDs(row.ExitTxIDs),
		Note:       row.Note,
	}
}

