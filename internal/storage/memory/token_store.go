package memory

import (
	"context"
	"sync"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TokenInfo // keyed by mint
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		data: make(map[string]*domain.TokenInfo),
	}
}

// Get retrieves token info by mint. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(_ context.Context, mint string) (*domain.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[mint]
	if !exists {
		return nil, storage.ErrNotFound
	}
	c := *t
	return &c, nil
}

// Upsert inserts or replaces token info.
func (s *TokenStore) Upsert(_ context.Context, t *domain.TokenInfo) error {
	if t == nil || t.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *t
	s.data[t.Mint] = &c
	return nil
}

var _ storage.TokenStore = (*TokenStore)(nil)
