package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/storage"
)

func testRebalanceRecord(saleID string, epoch int64) *domain.RebalanceRecord {
	return &domain.RebalanceRecord{
		SaleID:          saleID,
		Epoch:           epoch,
		EpochsElapsed:   1,
		Branch:          domain.BranchRelativeDutch,
		Timestamp:       1000 + epoch*100,
		AccumulatorWad:  big.NewInt(-50_000_000_000_000_000),
		TickLower:       -50,
		TickUpper:       50,
		CurrentTick:     -10,
		TotalTokensSold: big.NewInt(50_000),
		TotalProceeds:   big.NewInt(45_000),
		Slugs: []domain.Slug{
			{
				Kind:      domain.SlugLower,
				Range:     domain.TickRange{Lower: -50, Upper: -10},
				Liquidity: big.NewInt(1_000_000),
				Depth:     big.NewInt(45_000),
			},
			{
				Kind:      domain.SlugUpper,
				Range:     domain.TickRange{Lower: -10, Upper: 0},
				Liquidity: big.NewInt(2_000_000),
				Depth:     big.NewInt(50_000),
			},
		},
	}
}

func TestRebalanceStore_InsertAndGetByEpoch(t *testing.T) {
	store := NewRebalanceStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testRebalanceRecord("sale-1", 3)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetByEpoch(ctx, "sale-1", 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Branch != domain.BranchRelativeDutch || got.TickLower != -50 {
		t.Errorf("branch %s lower %d", got.Branch, got.TickLower)
	}
	if len(got.Slugs) != 2 {
		t.Fatalf("expected 2 slugs, got %d", len(got.Slugs))
	}
	if got.Slugs[0].Kind != domain.SlugLower || got.Slugs[0].Depth.Int64() != 45_000 {
		t.Errorf("slug 0: %s depth %s", got.Slugs[0].Kind, got.Slugs[0].Depth)
	}
}

func TestRebalanceStore_InsertDuplicateEpoch(t *testing.T) {
	store := NewRebalanceStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testRebalanceRecord("sale-1", 3)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, testRebalanceRecord("sale-1", 3)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if err := store.Insert(ctx, testRebalanceRecord("sale-1", 4)); err != nil {
		t.Errorf("next epoch: %v", err)
	}
}

func TestRebalanceStore_GetBySaleIDOrdered(t *testing.T) {
	store := NewRebalanceStore()
	ctx := context.Background()

	for _, epoch := range []int64{5, 2, 8} {
		if err := store.Insert(ctx, testRebalanceRecord("sale-1", epoch)); err != nil {
			t.Fatalf("insert epoch %d: %v", epoch, err)
		}
	}

	records, err := store.GetBySaleID(ctx, "sale-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	want := []int64{2, 5, 8}
	for i, w := range want {
		if records[i].Epoch != w {
			t.Errorf("position %d: epoch %d, want %d", i, records[i].Epoch, w)
		}
	}
}

func TestRebalanceStore_InsertBulkAtomic(t *testing.T) {
	store := NewRebalanceStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testRebalanceRecord("sale-1", 2)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	batch := []*domain.RebalanceRecord{
		testRebalanceRecord("sale-1", 1),
		testRebalanceRecord("sale-1", 2),
	}
	if err := store.InsertBulk(ctx, batch); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	records, _ := store.GetBySaleID(ctx, "sale-1")
	if len(records) != 1 {
		t.Errorf("failed batch must write nothing: %d records", len(records))
	}
}

func TestRebalanceStore_GetByEpochNotFound(t *testing.T) {
	store := NewRebalanceStore()
	if _, err := store.GetByEpoch(context.Background(), "sale-1", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRebalanceStore_ReturnsCopies(t *testing.T) {
	store := NewRebalanceStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testRebalanceRecord("sale-1", 3)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, _ := store.GetByEpoch(ctx, "sale-1", 3)
	got.AccumulatorWad.SetInt64(0)
	got.Slugs[0].Liquidity.SetInt64(0)

	fresh, _ := store.GetByEpoch(ctx, "sale-1", 3)
	if fresh.AccumulatorWad.Sign() == 0 {
		t.Error("mutating a returned record leaked into the store")
	}
	if fresh.Slugs[0].Liquidity.Int64() != 1_000_000 {
		t.Error("mutating a returned slug leaked into the store")
	}
}

func TestRebalanceStore_InvalidInput(t *testing.T) {
	store := NewRebalanceStore()
	ctx := context.Background()

	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil record: got %v", err)
	}
	if err := store.Insert(ctx, testRebalanceRecord("", 1)); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty sale id: got %v", err)
	}
	if err := store.Insert(ctx, testRebalanceRecord("sale-1", 0)); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("zero epoch: got %v", err)
	}
}
