package memory

import (
	"context"
	"sync"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

type positionEntry struct {
	rec *domain.PositionRecord
	seq int
}

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*positionEntry // keyed by position id
	seq  int
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*positionEntry),
	}
}

// Insert adds a new open position. Returns ErrDuplicateKey if the id exists.
func (s *PositionStore) Insert(_ context.Context, r *domain.PositionRecord) error {
	if r == nil || r.ID == "" || r.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.seq++
	s.data[r.ID] = &positionEntry{rec: clonePosition(r), seq: s.seq}
	return nil
}

// GetByID retrieves a position by id. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, id string) (*domain.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clonePosition(e.rec), nil
}

// FindOpen returns the most recently inserted open position for mint.
func (s *PositionStore) FindOpen(_ context.Context, mint string) (*domain.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *positionEntry
	for _, e := range s.data {
		if e.rec.Mint != mint || !e.rec.IsOpen() {
			continue
		}
		if best == nil || e.seq > best.seq {
			best = e
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return clonePosition(best.rec), nil
}

// Close records the exit on an open position.
func (s *PositionStore) Close(_ context.Context, id string, exit *domain.ExitRecord) error {
	if exit == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if !e.rec.IsOpen() {
		return storage.ErrAlreadyClosed
	}

	exitTime := exit.ExitTime
	exitPrice := exit.ExitPrice
	profitPct := exit.ProfitPct
	profitUSD := exit.ProfitUSD
	e.rec.ExitTime = &exitTime
	e.rec.ExitPrice = &exitPrice
	e.rec.ProfitPct = &profitPct
	e.rec.ProfitUSD = &profitUSD
	e.rec.ExitTxIDs = append([]string(nil), exit.TxIDs...)
	e.rec.Note = exit.Note
	return nil
}

// Annotate replaces the note and exit txids without closing the position.
func (s *PositionStore) Annotate(_ context.Context, id, note string, txIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	e.rec.Note = note
	e.rec.ExitTxIDs = append([]string(nil), txIDs...)
	return nil
}

func clonePosition(r *domain.PositionRecord) *domain.PositionRecord {
	c := *r
	if r.ExitTime != nil {
		t := *r.ExitTime
		c.ExitTime = &t
	}
	if r.ExitPrice != nil {
		v := *r.ExitPrice
		c.ExitPrice = &v
	}
	if r.ProfitPct != nil {
		v := *r.ProfitPct
		c.ProfitPct = &v
	}
	if r.ProfitUSD != nil {
		v := *r.ProfitUSD
		c.ProfitUSD = &v
	}
	c.ExitTxIDs = append([]string(nil), r.ExitTxIDs...)
	return &c
}

var _ storage.PositionStore = (*PositionStore)(nil)
