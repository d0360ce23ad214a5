package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

func testState() *TradingState {
	return &TradingState{
		Mode: domain.ModeSimulation,
		Positions: []domain.Position{
			{
				Symbol:   "005930",
				Market:   domain.MarketKR,
				Quantity: 10,
				AvgPrice: decimal.NewFromInt(70_000),
			},
		},
		AppliedIDs: []string{"o1", "o2"},
	}
}

func TestStateStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStateStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Save(testState()); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("expected a snapshot")
	}
	if len(loaded.Positions) != 1 || loaded.Positions[0].Symbol != "005930" {
		t.Errorf("positions did not survive round trip: %+v", loaded.Positions)
	}
	if !loaded.Positions[0].AvgPrice.Equal(decimal.NewFromInt(70_000)) {
		t.Errorf("avg price drifted: %s", loaded.Positions[0].AvgPrice)
	}
	if len(loaded.AppliedIDs) != 2 {
		t.Errorf("applied IDs lost: %v", loaded.AppliedIDs)
	}
}

func TestStateStore_LoadLatestEmpty(t *testing.T) {
	store, err := NewStateStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if loaded != nil {
		t.Errorf("expected nil snapshot for empty dir, got %+v", loaded)
	}
}

func TestStateStore_SkipsCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStateStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	state := testState()
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	// A newer but corrupt file must be skipped in favor of the older good one.
	corrupt := filepath.Join(dir, "state_99999999999999999999.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || len(loaded.Positions) != 1 {
		t.Fatalf("good snapshot not recovered: %+v", loaded)
	}
}

func TestStateStore_Cleanup(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStateStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := store.Save(testState()); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Cleanup(2); err != nil {
		t.Fatal(err)
	}

	files, err := store.snapshotFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("expected 2 snapshots after cleanup, got %d", len(files))
	}

	// The newest snapshot must still load.
	loaded, err := store.LoadLatest()
	if err != nil || loaded == nil {
		t.Fatalf("latest snapshot lost after cleanup: %v", err)
	}
}

func TestStateStore_HistoryTailCapped(t *testing.T) {
	store, err := NewStateStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	state := testState()
	for i := 0; i < maxHistoryInState+20; i++ {
		state.TradeHistory = append(state.TradeHistory, domain.TradeHistoryEntry{})
	}
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.TradeHistory) != maxHistoryInState {
		t.Errorf("expected history capped at %d, got %d", maxHistoryInState, len(loaded.TradeHistory))
	}
}
