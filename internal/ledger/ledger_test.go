package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func fill(id, symbol string, action domain.Action, qty int64, price string) domain.Order {
	return domain.Order{
		ID:            id,
		Symbol:        symbol,
		Market:        domain.MarketKR,
		Action:        action,
		Quantity:      qty,
		Kind:          domain.OrderMarket,
		Status:        domain.OrderExecuted,
		CreatedAt:     time.Now(),
		ExecutedPrice: d(price),
		ExecutedQty:   qty,
	}
}

func TestApplyFill_WeightedAverage(t *testing.T) {
	l := New()

	if _, err := l.ApplyFill(fill("o1", "005930", domain.ActionBuy, 10, "70000")); err != nil {
		t.Fatal(err)
	}
	pos, err := l.ApplyFill(fill("o2", "005930", domain.ActionBuy, 10, "80000"))
	if err != nil {
		t.Fatal(err)
	}

	if pos.Quantity != 20 {
		t.Errorf("expected quantity 20, got %d", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(d("75000")) {
		t.Errorf("expected avg 75000, got %s", pos.AvgPrice)
	}

	// Interleaved fills on an unrelated symbol must not disturb the average.
	if _, err := l.ApplyFill(fill("o3", "000660", domain.ActionBuy, 5, "120000")); err != nil {
		t.Fatal(err)
	}
	pos, err = l.ApplyFill(fill("o4", "005930", domain.ActionBuy, 20, "60000"))
	if err != nil {
		t.Fatal(err)
	}
	// (20*75000 + 20*60000) / 40 = 67500
	if !pos.AvgPrice.Equal(d("67500")) {
		t.Errorf("expected avg 67500, got %s", pos.AvgPrice)
	}
}

func TestApplyFill_Idempotent(t *testing.T) {
	l := New()

	order := fill("dup-1", "005930", domain.ActionBuy, 10, "70000")
	if _, err := l.ApplyFill(order); err != nil {
		t.Fatal(err)
	}
	pos, err := l.ApplyFill(order) // same ID again
	if err != nil {
		t.Fatal(err)
	}

	if pos.Quantity != 10 {
		t.Errorf("duplicate fill changed quantity: %d", pos.Quantity)
	}
	if got := l.Stats().Trades; got != 1 {
		t.Errorf("duplicate fill counted as trade: %d", got)
	}
}

func TestApplyFill_SellExceedsHoldings(t *testing.T) {
	l := New()
	if _, err := l.ApplyFill(fill("o1", "005930", domain.ActionBuy, 10, "70000")); err != nil {
		t.Fatal(err)
	}

	_, err := l.ApplyFill(fill("o2", "005930", domain.ActionSell, 11, "71000"))
	if !domain.IsInvalidFill(err) {
		t.Fatalf("expected InvalidFillError, got %v", err)
	}

	// Ledger unchanged, and the failed ID must stay unapplied so a corrected
	// retry can reuse it.
	pos, ok := l.Get("005930")
	if !ok || pos.Quantity != 10 {
		t.Errorf("ledger changed by rejected fill: %+v", pos)
	}
	if l.Applied("o2") {
		t.Error("rejected fill must not be marked applied")
	}
}

func TestApplyFill_SellRemovesAtZero(t *testing.T) {
	l := New()
	l.ApplyFill(fill("o1", "005930", domain.ActionBuy, 10, "70000"))

	// Partial sell keeps the average price.
	pos, err := l.ApplyFill(fill("o2", "005930", domain.ActionSell, 4, "77000"))
	if err != nil {
		t.Fatal(err)
	}
	if pos.Quantity != 6 {
		t.Errorf("expected 6 remaining, got %d", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(d("70000")) {
		t.Errorf("partial sell must not move avg price, got %s", pos.AvgPrice)
	}

	if _, err := l.ApplyFill(fill("o3", "005930", domain.ActionSell, 6, "77000")); err != nil {
		t.Fatal(err)
	}
	if l.Has("005930") {
		t.Error("position must be removed at zero quantity")
	}

	stats := l.Stats()
	// Realized: 4*7000 + 6*7000 = 70000
	if !stats.RealizedPnL.Equal(d("70000")) {
		t.Errorf("expected realized 70000, got %s", stats.RealizedPnL)
	}
	if stats.Wins != 2 {
		t.Errorf("expected 2 winning sells, got %d", stats.Wins)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	l := New()
	l.ApplyFill(fill("o1", "005930", domain.ActionBuy, 10, "70000"))
	l.ApplyFill(fill("o2", "000660", domain.ActionBuy, 3, "120000"))

	snap := l.Snapshot()
	ids := l.AppliedIDs()

	restored := New()
	restored.Restore(snap, ids)

	if restored.Len() != 2 {
		t.Fatalf("expected 2 positions, got %d", restored.Len())
	}
	for _, want := range snap {
		got, ok := restored.Get(want.Symbol)
		if !ok {
			t.Fatalf("missing %s after restore", want.Symbol)
		}
		if got.Quantity != want.Quantity || !got.AvgPrice.Equal(want.AvgPrice) {
			t.Errorf("%s: got %d@%s, want %d@%s",
				want.Symbol, got.Quantity, got.AvgPrice, want.Quantity, want.AvgPrice)
		}
	}

	// Applied IDs survive the round trip so replayed fills stay no-ops.
	if _, err := restored.ApplyFill(fill("o1", "005930", domain.ActionBuy, 10, "70000")); err != nil {
		t.Fatal(err)
	}
	if got, _ := restored.Get("005930"); got.Quantity != 10 {
		t.Errorf("replayed fill changed restored state: %d", got.Quantity)
	}
}

func TestApplyFill_ConcurrentNoLostUpdates(t *testing.T) {
	l := New()
	const loops = 8
	const fillsPerLoop = 50

	var wg sync.WaitGroup
	for i := 0; i < loops; i++ {
		wg.Add(1)
		go func(loop int) {
			defer wg.Done()
			for j := 0; j < fillsPerLoop; j++ {
				id := fmt.Sprintf("loop%d-fill%d", loop, j)
				if _, err := l.ApplyFill(fill(id, "005930", domain.ActionBuy, 1, "70000")); err != nil {
					t.Error(err)
				}
			}
		}(i)
	}
	wg.Wait()

	pos, ok := l.Get("005930")
	if !ok {
		t.Fatal("position missing")
	}
	if want := int64(loops * fillsPerLoop); pos.Quantity != want {
		t.Errorf("lost updates: got %d, want %d", pos.Quantity, want)
	}
	if !pos.AvgPrice.Equal(d("70000")) {
		t.Errorf("uniform-price fills must keep avg 70000, got %s", pos.AvgPrice)
	}
}

func TestStats_Unrealized(t *testing.T) {
	l := New()
	l.ApplyFill(fill("o1", "005930", domain.ActionBuy, 10, "70000"))
	l.SetPrice("005930", d("72000"))

	stats := l.Stats()
	if !stats.UnrealizedPnL.Equal(d("20000")) {
		t.Errorf("expected unrealized 20000, got %s", stats.UnrealizedPnL)
	}
}
