package memory

import (
	"context"
	"sort"
	"sync"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// TickStore is an in-memory implementation of storage.TickSink.
type TickStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.PricePoint // keyed by mint
}

// NewTickStore creates a new in-memory tick store.
func NewTickStore() *TickStore {
	return &TickStore{
		data: make(map[string][]*domain.PricePoint),
	}
}

// InsertTicks appends points.
func (s *TickStore) InsertTicks(_ context.Context, points []*domain.PricePoint) error {
	for _, p := range points {
		if p == nil || p.Mint == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		c := *p
		s.data[p.Mint] = append(s.data[p.Mint], &c)
	}
	return nil
}

// GetByMint returns the stored points of mint ordered by timestamp ASC.
func (s *TickStore) GetByMint(_ context.Context, mint string) ([]*domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PricePoint, 0, len(s.data[mint]))
	for _, p := range s.data[mint] {
		c := *p
		result = append(result, &c)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

var _ storage.TickSink = (*TickStore)(nil)
