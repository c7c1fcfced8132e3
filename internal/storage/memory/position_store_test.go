package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/storage"
)

func TestPositionStore_InsertAndGet(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	pos := &domain.PositionRecord{ID: "pos1", Mint: "MintA", EntryPrice: 0.5, EntryTime: time.Unix(1000, 0)}
	if err := store.Insert(ctx, pos); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "pos1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.EntryPrice != 0.5 {
		t.Errorf("EntryPrice mismatch: got %f, want %f", got.EntryPrice, 0.5)
	}
	if !got.IsOpen() {
		t.Error("expected position to be open")
	}

	// Returned copies do not alias the stored row.
	got.Mint = "changed"
	again, _ := store.GetByID(ctx, "pos1")
	if again.Mint != "MintA" {
		t.Errorf("stored row was mutated through a returned copy")
	}
}

func TestPositionStore_DuplicateKey(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	pos := &domain.PositionRecord{ID: "pos1", Mint: "MintA"}
	if err := store.Insert(ctx, pos); err != nil {
		t.Fatalf("first Insert failed: %v", err)
	}

	err := store.Insert(ctx, pos)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestPositionStore_FindOpen(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	for _, id := range []string{"pos1", "pos2"} {
		if err := store.Insert(ctx, &domain.PositionRecord{ID: id, Mint: "MintA"}); err != nil {
			t.Fatalf("Insert %s failed: %v", id, err)
		}
	}

	got, err := store.FindOpen(ctx, "MintA")
	if err != nil {
		t.Fatalf("FindOpen failed: %v", err)
	}
	if got.ID != "pos2" {
		t.Errorf("expected most recent pos2, got %s", got.ID)
	}

	if err := store.Close(ctx, "pos2", &domain.ExitRecord{ExitPrice: 1}); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	got, err = store.FindOpen(ctx, "MintA")
	if err != nil {
		t.Fatalf("FindOpen after close failed: %v", err)
	}
	if got.ID != "pos1" {
		t.Errorf("expected pos1, got %s", got.ID)
	}

	if _, err := store.FindOpen(ctx, "MintB"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPositionStore_Annotate(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.PositionRecord{ID: "pos1", Mint: "MintA"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Annotate(ctx, "pos1", "forced close failure", []string{"sig1"}); err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "pos1")
	if !got.IsOpen() {
		t.Error("Annotate must not close the position")
	}
	if got.Note != "forced close failure" || len(got.ExitTxIDs) != 1 {
		t.Errorf("annotation not stored: %+v", got)
	}
	if err := store.Annotate(ctx, "missing", "x", nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPositionStore_Close(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.PositionRecord{ID: "pos1", Mint: "MintA"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	exit := &domain.ExitRecord{ExitPrice: 0.7, ProfitPct: 40, TxIDs: []string{"sig1"}, Note: "n"}
	if err := store.Close(ctx, "pos1", exit); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "pos1")
	if got.IsOpen() || *got.ExitPrice != 0.7 || len(got.ExitTxIDs) != 1 {
		t.Errorf("exit not recorded: %+v", got)
	}

	if err := store.Close(ctx, "pos1", exit); !errors.Is(err, storage.ErrAlreadyClosed) {
		t.Errorf("expected ErrAlreadyClosed, got %v", err)
	}
	if err := store.Close(ctx, "missing", exit); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
