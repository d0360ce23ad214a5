package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

func openTestHistory(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func entry(orderID, symbol string, action domain.Action, at time.Time) domain.TradeHistoryEntry {
	return domain.TradeHistoryEntry{
		Order: domain.Order{
			ID:            orderID,
			Symbol:        symbol,
			Market:        domain.MarketKR,
			Action:        action,
			Quantity:      10,
			Status:        domain.OrderExecuted,
			ExecutedPrice: decimal.NewFromInt(70_000),
			ExecutedQty:   10,
		},
		Signal: domain.Signal{
			ID:         "sig-" + orderID,
			Symbol:     symbol,
			Action:     action,
			Confidence: 0.8,
			Source:     "technical",
		},
		RealizedPnL: decimal.Zero,
		At:          at,
	}
}

func TestHistoryStore_CountTradesToday(t *testing.T) {
	store := openTestHistory(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Append(ctx, entry("o1", "005930", domain.ActionBuy, now)); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, entry("o2", "005930", domain.ActionSell, now)); err != nil {
		t.Fatal(err)
	}
	// Yesterday's trade is outside the daily window.
	if err := store.Append(ctx, entry("o3", "005930", domain.ActionBuy, now.Add(-25*time.Hour))); err != nil {
		t.Fatal(err)
	}
	// Another symbol does not count.
	if err := store.Append(ctx, entry("o4", "000660", domain.ActionBuy, now)); err != nil {
		t.Fatal(err)
	}

	count, err := store.CountTradesToday(ctx, "005930", now)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 trades today, got %d", count)
	}
}

func TestHistoryStore_AppendIdempotent(t *testing.T) {
	store := openTestHistory(t)
	ctx := context.Background()
	now := time.Now()

	e := entry("dup-1", "005930", domain.ActionBuy, now)
	if err := store.Append(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, e); err != nil {
		t.Fatal(err)
	}

	count, err := store.CountTradesToday(ctx, "005930", now)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("duplicate order ID double-counted: %d", count)
	}
}

func TestHistoryStore_Recent(t *testing.T) {
	store := openTestHistory(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"o1", "o2", "o3"} {
		e := entry(id, "005930", domain.ActionBuy, base.Add(time.Duration(i)*time.Minute))
		if err := store.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].Order.ID != "o3" || recent[1].Order.ID != "o2" {
		t.Errorf("expected newest first, got %s then %s", recent[0].Order.ID, recent[1].Order.ID)
	}
	if !recent[0].Order.ExecutedPrice.Equal(decimal.NewFromInt(70_000)) {
		t.Errorf("price did not survive round trip: %s", recent[0].Order.ExecutedPrice)
	}
	if recent[0].Signal.Source != "technical" {
		t.Errorf("signal metadata lost: %+v", recent[0].Signal)
	}
}
