package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/broker"
	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/executor"
	"github.com/beta0629/stock-trading-system-sub000/internal/ledger"
	"github.com/beta0629/stock-trading-system-sub000/internal/notify"
	"github.com/beta0629/stock-trading-system-sub000/internal/risk"
	"github.com/beta0629/stock-trading-system-sub000/internal/router"
	"github.com/beta0629/stock-trading-system-sub000/internal/signal"
)

// staticQuotes serves one fixed price per symbol, standing in for the
// market-data client.
type staticQuotes struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (q *staticQuotes) set(symbol string, price int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prices[symbol] = decimal.NewFromInt(price)
}

func (q *staticQuotes) Price(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.prices[symbol], nil
}

type memHistory struct {
	mu      sync.Mutex
	entries int
}

func (m *memHistory) Append(ctx context.Context, e domain.TradeHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries++
	return nil
}

func (m *memHistory) CountTradesToday(ctx context.Context, symbol string, now time.Time) (int, error) {
	return 0, nil
}

type nopSaver struct{}

func (nopSaver) SaveState(ctx context.Context) error { return nil }

type fixedRate struct{}

func (fixedRate) Rate() decimal.Decimal { return decimal.NewFromInt(1400) }

// newSimTrader wires a Trader the way bootstrap does for SIMULATION mode,
// with the quote source stubbed out.
func newSimTrader(t *testing.T, quotes *staticQuotes) *Trader {
	t.Helper()

	sim := broker.NewSimBroker(decimal.NewFromInt(10_000_000))
	led := ledger.New()
	hist := &memHistory{}
	exec := executor.New(sim, led, hist, nopSaver{}, notify.Nop{})
	cal := domain.NewCalendar(map[domain.Market]domain.TradingHours{
		domain.MarketKR: {Open: "00:00", Close: "23:59", Location: time.UTC},
		domain.MarketUS: {Open: "00:00", Close: "23:59", Location: time.UTC},
	})
	limits := risk.Limits{MaxPositions: 10, MaxPositionPct: 20, MaxDailyTrades: 10}

	tr := &Trader{
		mode:     domain.ModeSimulation,
		broker:   sim,
		sim:      sim,
		quotes:   quotes,
		ledger:   led,
		notifier: notify.Nop{},
		source:   signal.NewTechnicalSource(),
		exec:     exec,
		calendar: cal,
		limits:   limits,
		watch:    []watchItem{{code: "005930", name: "Samsung Electronics", market: domain.MarketKR}},
	}
	tr.router = router.New(router.Params{
		Account:       sim,
		Placer:        exec,
		Ledger:        led,
		Counter:       hist,
		FX:            fixedRate{},
		Calendar:      cal,
		Limits:        limits,
		MinConfidence: 0.5,
	})
	return tr
}

func TestPeriodicTick_FeedsSimBroker(t *testing.T) {
	quotes := &staticQuotes{prices: map[string]decimal.Decimal{}}
	quotes.set("005930", 70000)
	tr := newSimTrader(t, quotes)

	// Before the first tick the sim broker has never seen a price.
	if _, err := tr.sim.Price(context.Background(), "005930", domain.MarketKR); err == nil {
		t.Fatal("sim broker should have no price before the first tick")
	}

	if err := tr.periodicTick(context.Background()); err != nil {
		t.Fatal(err)
	}

	price, err := tr.sim.Price(context.Background(), "005930", domain.MarketKR)
	if err != nil {
		t.Fatalf("sim broker price after tick: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(70000)) {
		t.Errorf("sim price: got %s, want 70000", price)
	}
	if got := tr.source.Samples("005930"); got != 1 {
		t.Errorf("expected one observed sample, got %d", got)
	}
}

func TestRealtimeTick_RoutesSurgeBuy(t *testing.T) {
	quotes := &staticQuotes{prices: map[string]decimal.Decimal{}}
	quotes.set("005930", 70000)
	tr := newSimTrader(t, quotes)

	// Accumulate a flat baseline, then jump the quote 3.6%.
	for i := 0; i < 10; i++ {
		if err := tr.realtimeTick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if tr.ledger.Has("005930") {
		t.Fatal("flat prices must not open a position")
	}

	quotes.set("005930", 72500)
	if err := tr.realtimeTick(context.Background()); err != nil {
		t.Fatal(err)
	}

	pos, ok := tr.ledger.Get("005930")
	if !ok {
		t.Fatal("expected the surge scan to open a position")
	}
	if pos.Quantity <= 0 {
		t.Errorf("position quantity: got %d", pos.Quantity)
	}
	if !pos.AvgPrice.Equal(decimal.NewFromInt(72500)) {
		t.Errorf("fill price: got %s, want 72500", pos.AvgPrice)
	}

	// The next scan must not stack a second buy on the held symbol.
	if err := tr.realtimeTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	after, _ := tr.ledger.Get("005930")
	if after.Quantity != pos.Quantity {
		t.Errorf("held symbol re-bought: %d -> %d", pos.Quantity, after.Quantity)
	}
}
