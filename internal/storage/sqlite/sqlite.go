// Package sqlite implements the ledger stores on a single SQLite file
// through gorm, for hosts that run one trader without Postgres.
package sqlite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"solana-swap-trader/internal/observability"
)

// DB wraps the gorm handle shared by the stores.
type DB struct {
	*gorm.DB
}

// Open opens (or creates) the database at path and migrates the ledger schema.
// ":memory:" is accepted for tests.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across the pool.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&tokenRow{}, &positionRow{}, &livePriceRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &DB{DB: db}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type tokenRow struct {
	Mint       string `gorm:"primaryKey"`
	Name       string
	Decimals   int
	QuoteVault string
	TokenVault string
	RouteBase  string
}

func (tokenRow) TableName() string { return "tokens" }

type positionRow struct {
	Seq        int64  `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"uniqueIndex;not null"`
	Mint       string `gorm:"index:idx_positions_mint;not null"`
	Name       string
	EntryTime  time.Time
	EntryPrice float64
	EntryTxID  string
	Score      int
	ExitTime   *time.Time `gorm:"index"`
	ExitPrice  *float64
	ProfitPct  *float64
	ProfitUSD  *float64
	ExitTxIDs  string // comma separated
	Note       string
}

func (positionRow) TableName() string { return "positions" }

type livePriceRow struct {
	Mint      string `gorm:"primaryKey"`
	PriceUSD  float64
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (livePriceRow) TableName() string { return "live_prices" }

func joinTxIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func splitTxIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func observe(op string, start time.Time, err error) {
	if isNotFound(err) {
		err = nil
	}
	observability.RecordDBQuery("sqlite", op, time.Since(start).Seconds(), err)
}
