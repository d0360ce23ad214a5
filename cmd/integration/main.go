// Command integration runs an end-to-end simulated trading scenario against
// real stores on disk: buy on a strong signal, ride the price down through
// the stop-loss, and verify the forced exit and persisted state. No network.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/broker"
	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/executor"
	"github.com/beta0629/stock-trading-system-sub000/internal/ledger"
	"github.com/beta0629/stock-trading-system-sub000/internal/notify"
	"github.com/beta0629/stock-trading-system-sub000/internal/risk"
	"github.com/beta0629/stock-trading-system-sub000/internal/storage"
)

type snapshotSaver struct {
	store  *storage.StateStore
	ledger *ledger.Ledger
}

func (s *snapshotSaver) SaveState(ctx context.Context) error {
	return s.store.Save(&storage.TradingState{
		Mode:       domain.ModeSimulation,
		Positions:  s.ledger.Snapshot(),
		AppliedIDs: s.ledger.AppliedIDs(),
		Stats:      s.ledger.Stats(),
	})
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("PASS")
}

func run() error {
	dir, err := os.MkdirTemp("", "trader-integration-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	stateStore, err := storage.NewStateStore(filepath.Join(dir, "state"))
	if err != nil {
		return err
	}
	history, err := storage.NewHistoryStore(filepath.Join(dir, "trades.db"))
	if err != nil {
		return err
	}
	defer history.Close()

	sim := broker.NewSimBroker(decimal.NewFromInt(10_000_000))
	led := ledger.New()
	exec := executor.New(sim, led, history, &snapshotSaver{store: stateStore, ledger: led}, notify.Nop{})

	ctx := context.Background()
	const symbol = "005930"

	// Phase 1: strong buy signal at 100,000.
	sim.UpdatePrice(symbol, decimal.NewFromInt(100_000))
	buySig := domain.Signal{
		ID:         "integration-buy",
		Symbol:     symbol,
		Market:     domain.MarketKR,
		Action:     domain.ActionBuy,
		Strength:   domain.StrengthStrong,
		Confidence: 0.9,
		Source:     "integration",
		At:         time.Now(),
	}

	lim := risk.Limits{
		MaxPositions:   10,
		MaxPositionPct: 20,
		StopLossPct:    decimal.NewFromInt(3),
		TakeProfitPct:  decimal.NewFromInt(5),
	}
	bal, err := sim.Balance(ctx)
	if err != nil {
		return err
	}
	qty := risk.SizeBuy(decimal.NewFromInt(100_000), buySig.Strength, bal.Available, led.Len(), lim)
	if qty != 20 {
		return fmt.Errorf("expected 20 shares from 2M budget at 100k, got %d", qty)
	}

	order, err := exec.Execute(ctx, executor.Request{Signal: buySig, Quantity: qty, Kind: domain.OrderMarket})
	if err != nil {
		return fmt.Errorf("buy: %w", err)
	}
	fmt.Printf("bought %d @ %s (order %s)\n", order.ExecutedQty, order.ExecutedPrice, order.ID)

	// Phase 2: price drops past the 3%% stop to 96,900.
	sim.UpdatePrice(symbol, decimal.NewFromInt(96_900))
	pos, _ := led.Get(symbol)
	led.SetPrice(symbol, decimal.NewFromInt(96_900))

	reason := risk.CheckExit(pos, decimal.NewFromInt(96_900), lim, time.Now())
	if reason != risk.ExitStopLoss {
		return fmt.Errorf("expected STOP_LOSS at -3.1%%, got %s", reason)
	}

	exit, err := exec.ForceSell(ctx, symbol, domain.MarketKR, reason.String())
	if err != nil {
		return fmt.Errorf("forced exit: %w", err)
	}
	fmt.Printf("forced exit %d @ %s (%s)\n", exit.ExecutedQty, exit.ExecutedPrice, reason)

	// Phase 3: verify ledger, realized PnL and persisted artifacts.
	if led.Has(symbol) {
		return fmt.Errorf("position still held after exit")
	}
	stats := led.Stats()
	wantPnL := decimal.NewFromInt(-62_000) // 20 * (96,900 - 100,000)
	if !stats.RealizedPnL.Equal(wantPnL) {
		return fmt.Errorf("realized PnL: got %s, want %s", stats.RealizedPnL, wantPnL)
	}

	count, err := history.CountTradesToday(ctx, symbol, time.Now())
	if err != nil {
		return err
	}
	if count != 2 {
		return fmt.Errorf("history: expected 2 trades today, got %d", count)
	}

	saved, err := stateStore.LoadLatest()
	if err != nil {
		return err
	}
	if saved == nil || len(saved.Positions) != 0 || len(saved.AppliedIDs) != 2 {
		return fmt.Errorf("snapshot mismatch: %+v", saved)
	}

	fmt.Printf("realized PnL %s, %d trades recorded, snapshot consistent\n", stats.RealizedPnL, count)
	return nil
}
