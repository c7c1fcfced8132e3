package memory

import (
	"context"
	"sync"
	"time"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// LivePriceStore is an in-memory implementation of storage.LivePriceStore.
type LivePriceStore struct {
	mu   sync.RWMutex
	data map[string]domain.LivePrice // keyed by mint
}

// NewLivePriceStore creates a new in-memory live price store.
func NewLivePriceStore() *LivePriceStore {
	return &LivePriceStore{
		data: make(map[string]domain.LivePrice),
	}
}

// Upsert replaces the live price of p.Mint. Non-positive prices are rejected.
func (s *LivePriceStore) Upsert(_ context.Context, p *domain.LivePrice) error {
	if p == nil || p.Mint == "" || p.PriceUSD <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[p.Mint] = *p
	return nil
}

// GetFresh returns the live price if it is at most maxAge old at now.
func (s *LivePriceStore) GetFresh(_ context.Context, mint string, maxAge time.Duration, now time.Time) (*domain.LivePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[mint]
	if !exists || now.Sub(p.UpdatedAt) > maxAge {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

var _ storage.LivePriceStore = (*LivePriceStore)(nil)
