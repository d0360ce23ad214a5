// Package backtest replays recorded signal streams through the real router,
// executor and ledger against the simulated broker, so a strategy change can
// be judged on historical events before it touches a live session.
package backtest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/broker"
	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/executor"
	"github.com/beta0629/stock-trading-system-sub000/internal/ledger"
	"github.com/beta0629/stock-trading-system-sub000/internal/notify"
	"github.com/beta0629/stock-trading-system-sub000/internal/risk"
	"github.com/beta0629/stock-trading-system-sub000/internal/router"
)

// Event is one line of the replay file: the signal plus the market price at
// that moment.
type Event struct {
	Signal domain.Signal   `json:"signal"`
	Price  decimal.Decimal `json:"price"`
}

// Result summarizes one replay run.
type Result struct {
	Events    int
	Executed  int
	FinalCash decimal.Decimal
	Positions []domain.Position
	Stats     domain.TradeStats
}

// Options configure a replay. Zero values take the usual defaults.
type Options struct {
	InitialCash   decimal.Decimal
	Limits        risk.Limits
	MinConfidence float64
	TradeInterval time.Duration
	Blocked       []string
}

// memoryHistory is the in-memory stand-in for the SQLite history store. It
// records appends and answers the daily trade count from them.
type memoryHistory struct {
	mu      sync.Mutex
	entries []domain.TradeHistoryEntry
}

func (m *memoryHistory) Append(ctx context.Context, e domain.TradeHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryHistory) CountTradesToday(ctx context.Context, symbol string, now time.Time) (int, error) {
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location())

	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entries {
		// Entries are stamped with wall-clock time at append; the replayed
		// signal's own timestamp is the one that matters for the daily cap.
		at := e.At
		if !e.Signal.At.IsZero() {
			at = e.Signal.At
		}
		if e.Order.Symbol == symbol && !at.Before(midnight) && at.Before(midnight.Add(24*time.Hour)) {
			count++
		}
	}
	return count, nil
}

type nopSaver struct{}

func (nopSaver) SaveState(ctx context.Context) error { return nil }

type fixedRate struct{ rate decimal.Decimal }

func (f fixedRate) Rate() decimal.Decimal { return f.rate }

// ReplayFile replays a JSON-lines event file.
func ReplayFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()
	return Replay(ctx, f, opts)
}

// Replay runs all events from r through the full routing pipeline. The
// router's clock follows each event's signal timestamp, so interval and
// daily-cap gates behave as they would have at the time.
func Replay(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	if opts.InitialCash.Sign() <= 0 {
		opts.InitialCash = decimal.NewFromInt(10_000_000)
	}

	sim := broker.NewSimBroker(opts.InitialCash)
	led := ledger.New()
	hist := &memoryHistory{}
	exec := executor.New(sim, led, hist, nopSaver{}, notify.Nop{})

	// Replayed events carry their own historical timestamps; a wall-clock
	// session check would reject most of them.
	clock := struct {
		mu  sync.Mutex
		now time.Time
	}{now: time.Now()}

	rt := router.New(router.Params{
		Account: sim,
		Placer:  exec,
		Ledger:  led,
		Counter: hist,
		FX:      fixedRate{rate: decimal.NewFromInt(1400)},
		Calendar: domain.NewCalendar(map[domain.Market]domain.TradingHours{
			domain.MarketKR: {Open: "00:00", Close: "23:59", Location: time.UTC},
			domain.MarketUS: {Open: "00:00", Close: "23:59", Location: time.UTC},
		}),
		Limits:        opts.Limits,
		MinConfidence: opts.MinConfidence,
		TradeInterval: opts.TradeInterval,
		Blocked:       opts.Blocked,
		Now: func() time.Time {
			clock.mu.Lock()
			defer clock.mu.Unlock()
			return clock.now
		},
	})

	result := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("event %d: %w", result.Events+1, err)
		}
		result.Events++

		if ev.Price.Sign() > 0 {
			sim.UpdatePrice(ev.Signal.Symbol, ev.Price)
			led.SetPrice(ev.Signal.Symbol, ev.Price)
		}
		if !ev.Signal.At.IsZero() {
			clock.mu.Lock()
			clock.now = ev.Signal.At
			clock.mu.Unlock()
		}

		result.Executed += rt.Route(ctx, []domain.Signal{ev.Signal})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay stream: %w", err)
	}

	bal, err := sim.Balance(ctx)
	if err != nil {
		return nil, err
	}
	result.FinalCash = bal.Cash
	result.Positions = led.Snapshot()
	result.Stats = led.Stats()
	return result, nil
}
