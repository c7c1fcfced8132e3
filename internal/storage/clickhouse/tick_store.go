package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// TickStore implements storage.TickSink using ClickHouse.
type TickStore struct {
	conn *Conn
}

// NewTickStore creates a new TickStore.
func NewTickStore(conn *Conn) *TickStore {
	return &TickStore{conn: conn}
}

var _ storage.TickSink = (*TickStore)(nil)

// InsertTicks appends points to price_ticks in a single batch.
func (s *TickStore) InsertTicks(ctx context.Context, points []*domain.PricePoint) (err error) {
	if len(points) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("tick_insert", start, err) }(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_ticks (mint, timestamp_ms, source, price, accepted)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		var accepted uint8
		if p.Accepted {
			accepted = 1
		}
		if err := batch.Append(p.Mint, p.TimestampMs, p.Source, p.Price, accepted); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByMint returns ticks for mint in [startMs, endMs], ordered by time.
func (s *TickStore) GetByMint(ctx context.Context, mint string, startMs, endMs int64) (_ []*domain.PricePoint, err error) {
	defer func(start time.Time) { observe("tick_range", start, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `
		SELECT mint, timestamp_ms, source, price, accepted
		FROM price_ticks
		WHERE mint = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`, mint, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query price ticks: %w", err)
	}
	defer rows.Close()

	var result []*domain.PricePoint
	for rows.Next() {
		var (
			p        domain.PricePoint
			accepted uint8
		)
		if err := rows.Scan(&p.Mint, &p.TimestampMs, &p.Source, &p.Price, &accepted); err != nil {
			return nil, fmt.Errorf("scan price tick: %w", err)
		}
		p.Accepted = accepted == 1
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price ticks: %w", err)
	}
	return result, nil
}
