package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/broker"
	"github.com/beta0629/stock-trading-system-sub000/internal/broker/kis"
	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/executor"
	"github.com/beta0629/stock-trading-system-sub000/internal/infra"
	"github.com/beta0629/stock-trading-system-sub000/internal/ledger"
	"github.com/beta0629/stock-trading-system-sub000/internal/notify"
	"github.com/beta0629/stock-trading-system-sub000/internal/risk"
	"github.com/beta0629/stock-trading-system-sub000/internal/router"
	"github.com/beta0629/stock-trading-system-sub000/internal/scheduler"
	"github.com/beta0629/stock-trading-system-sub000/internal/signal"
	"github.com/beta0629/stock-trading-system-sub000/internal/storage"
)

// watchItem is one symbol under evaluation.
type watchItem struct {
	code   string
	name   string
	market domain.Market
}

// quoteSource supplies live market prices. Quotes stay real regardless of the
// trading mode; only execution is simulated.
type quoteSource interface {
	Price(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error)
}

// Trader owns every component and the three scheduler loops. Built by New,
// driven by Run, torn down by Close.
type Trader struct {
	cfg  *infra.Config
	mode domain.Mode

	broker   broker.Broker
	sim      *broker.SimBroker // non-nil only in SIMULATION mode
	kis      *kis.Client       // non-nil when a KIS session exists (orders or quotes)
	quotes   quoteSource
	feed     *kis.PriceFeed
	ledger   *ledger.Ledger
	state    *storage.StateStore
	history  *storage.HistoryStore
	notifier notify.Notifier
	fx       *infra.ExchangeRateClient
	source   *signal.TechnicalSource
	exec     *executor.Executor
	router   *router.Router
	sched    *scheduler.Scheduler
	calendar *domain.Calendar
	limits   risk.Limits

	watch  []watchItem
	unlock func()
}

func (t *Trader) buildWatchlist() {
	for _, s := range t.cfg.Watchlist.KR {
		t.watch = append(t.watch, watchItem{code: s.Code, name: s.Name, market: domain.MarketKR})
	}
	for _, s := range t.cfg.Watchlist.US {
		t.watch = append(t.watch, watchItem{code: s.Code, name: s.Name, market: domain.MarketUS})
	}
}

func (t *Trader) buildScheduler() {
	s := t.cfg.Scheduler
	anyOpen := func(now time.Time) bool {
		return t.calendar.Open(domain.MarketKR, now) || t.calendar.Open(domain.MarketUS, now)
	}

	t.sched = scheduler.New()
	t.sched.Add(scheduler.NewLoop("periodic",
		time.Duration(s.PeriodicIntervalMin)*time.Minute, t.periodicTick).WithGate(anyOpen))
	t.sched.Add(scheduler.NewLoop("realtime",
		time.Duration(s.RealtimeIntervalSec)*time.Second, t.realtimeTick).WithGate(anyOpen))
	t.sched.Add(scheduler.NewLoop("health",
		time.Duration(s.HealthIntervalSec)*time.Second, t.healthTick))
}

// Run starts the background services and loops, then blocks until ctx ends.
func (t *Trader) Run(ctx context.Context) error {
	t.fx.Start(ctx)

	if t.kis != nil && t.cfg.API.KIS.WSURL != "" {
		t.feed = kis.NewPriceFeed(t.cfg.API.KIS.WSURL, t.kis, t.watchCodes())
		t.feed.Start(ctx)
		go t.consumeFeed()
	}

	if err := t.sched.Start(ctx); err != nil {
		return err
	}

	t.notifyEvent(ctx, notify.Event{
		Kind:    notify.KindStartup,
		Title:   "Trader started",
		Message: fmt.Sprintf("mode=%s watchlist=%d", t.mode, len(t.watch)),
		At:      time.Now(),
	})
	slog.Info("🚀 Trader running",
		slog.String("mode", string(t.mode)),
		slog.Int("watchlist", len(t.watch)))

	<-ctx.Done()
	slog.Info("Shutdown signal received")
	return nil
}

// Close stops everything in reverse start order and writes a final snapshot.
func (t *Trader) Close() {
	t.sched.Stop()
	if t.feed != nil {
		t.feed.Stop()
	}
	t.fx.Stop()

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.SaveState(saveCtx); err != nil {
		slog.Error("Final state save failed", slog.Any("error", err))
	}
	if err := t.state.Cleanup(10); err != nil {
		slog.Warn("State cleanup failed", slog.Any("error", err))
	}

	t.notifyEvent(saveCtx, notify.Event{
		Kind:    notify.KindShutdown,
		Title:   "Trader stopped",
		Message: fmt.Sprintf("positions=%d", t.ledger.Len()),
		At:      time.Now(),
	})

	if t.mode != domain.ModeLive && t.kis != nil {
		t.kis.Close() // quote-only session alongside the sim broker
	}
	if err := t.broker.Close(); err != nil {
		slog.Warn("Broker close failed", slog.Any("error", err))
	}
	if err := t.history.Close(); err != nil {
		slog.Warn("History close failed", slog.Any("error", err))
	}
	t.unlock()
	slog.Info("👋 Trader stopped")
}

// SaveState writes the crash-recovery snapshot. Called by the executor after
// every executed order and once more on shutdown.
func (t *Trader) SaveState(ctx context.Context) error {
	recent, err := t.history.Recent(ctx, 50)
	if err != nil {
		slog.Warn("History tail unavailable for snapshot", slog.Any("error", err))
	}
	return t.state.Save(&storage.TradingState{
		Mode:         t.mode,
		Positions:    t.ledger.Snapshot(),
		AppliedIDs:   t.ledger.AppliedIDs(),
		TradeHistory: recent,
		Stats:        t.ledger.Stats(),
	})
}

// periodicTick evaluates the whole watchlist and routes the resulting signals.
func (t *Trader) periodicTick(ctx context.Context) error {
	now := time.Now()
	signals := make([]domain.Signal, 0, len(t.watch))

	for _, w := range t.watch {
		if !t.calendar.Open(w.market, now) {
			continue
		}

		price, err := t.quotes.Price(ctx, w.code, w.market)
		if err != nil {
			slog.Warn("Price fetch failed", slog.String("symbol", w.code), slog.Any("error", err))
			continue
		}
		t.observePrice(w.code, price)

		sig, err := t.source.GetSignal(ctx, w.code, w.market)
		if err != nil {
			slog.Warn("Signal evaluation failed", slog.String("symbol", w.code), slog.Any("error", err))
			continue
		}
		if sig != nil {
			signals = append(signals, *sig)
		}
	}

	if executed := t.router.Route(ctx, signals); executed > 0 {
		slog.Info("Periodic pass complete",
			slog.Int("signals", len(signals)),
			slog.Int("executed", executed))
	}
	return nil
}

// realtimeTick is the fast scan between periodic passes: it refreshes quotes
// for the open watchlist, then routes surge buys for symbols not yet held.
// The fresh prices also keep the health loop's exit checks current.
func (t *Trader) realtimeTick(ctx context.Context) error {
	now := time.Now()
	var signals []domain.Signal
	seen := make(map[string]struct{}, len(t.watch))

	for _, w := range t.watch {
		if !t.calendar.Open(w.market, now) {
			continue
		}
		seen[w.code] = struct{}{}

		price, err := t.quotes.Price(ctx, w.code, w.market)
		if err != nil {
			slog.Debug("Realtime price fetch failed", slog.String("symbol", w.code), slog.Any("error", err))
			continue
		}
		t.observePrice(w.code, price)

		if t.ledger.Has(w.code) {
			continue
		}
		if sig := t.source.SurgeSignal(w.code, w.market); sig != nil {
			slog.Info("Surge detected",
				slog.String("symbol", w.code),
				slog.String("source", sig.Source),
				slog.Float64("confidence", sig.Confidence))
			signals = append(signals, *sig)
		}
	}

	// Positions restored from an older watchlist still need fresh prices for
	// the health loop.
	for _, pos := range t.ledger.Snapshot() {
		if _, ok := seen[pos.Symbol]; ok {
			continue
		}
		if !t.calendar.Open(pos.Market, now) {
			continue
		}
		price, err := t.quotes.Price(ctx, pos.Symbol, pos.Market)
		if err != nil {
			continue
		}
		t.observePrice(pos.Symbol, price)
	}

	if executed := t.router.Route(ctx, signals); executed > 0 {
		slog.Info("Surge scan complete",
			slog.Int("signals", len(signals)),
			slog.Int("executed", executed))
	}
	return nil
}

// healthTick enforces stop-loss, take-profit and max-holding exits.
func (t *Trader) healthTick(ctx context.Context) error {
	now := time.Now()
	for _, pos := range t.ledger.Snapshot() {
		if !t.calendar.Open(pos.Market, now) {
			continue
		}

		reason := risk.CheckExit(pos, pos.CurrentPrice, t.limits, now)
		if reason == risk.ExitNone {
			continue
		}

		slog.Warn("Exit condition met",
			slog.String("symbol", pos.Symbol),
			slog.String("reason", reason.String()),
			slog.String("avg", pos.AvgPrice.String()),
			slog.String("current", pos.CurrentPrice.String()))

		if _, err := t.exec.ForceSell(ctx, pos.Symbol, pos.Market, reason.String()); err != nil {
			slog.Error("Forced exit failed",
				slog.String("symbol", pos.Symbol),
				slog.String("reason", reason.String()),
				slog.Any("error", err))
		}
	}
	return nil
}

// observePrice fans one quote out to every price consumer. The simulated
// broker fills at these quotes, so in SIMULATION it must see them too.
func (t *Trader) observePrice(symbol string, price decimal.Decimal) {
	if t.sim != nil {
		t.sim.UpdatePrice(symbol, price)
	}
	t.ledger.SetPrice(symbol, price)
	t.source.Observe(symbol, price)
}

// consumeFeed drains websocket ticks into the price-dependent components.
func (t *Trader) consumeFeed() {
	for tick := range t.feed.C() {
		if t.sim != nil {
			t.sim.UpdatePrice(tick.Symbol, tick.Price)
		}
		t.ledger.SetPrice(tick.Symbol, tick.Price)
		t.source.ObserveTrade(tick.Symbol, tick.Price, tick.Volume)
	}
}

func (t *Trader) watchCodes() []string {
	codes := make([]string, 0, len(t.watch))
	for _, w := range t.watch {
		if w.market == domain.MarketKR { // the KIS websocket only carries domestic symbols
			codes = append(codes, w.code)
		}
	}
	return codes
}

func (t *Trader) notifyEvent(ctx context.Context, ev notify.Event) {
	if err := t.notifier.Notify(ctx, ev); err != nil {
		slog.Warn("Notification failed", slog.String("kind", string(ev.Kind)), slog.Any("error", err))
	}
}

// Mode returns the execution mode chosen at startup.
func (t *Trader) Mode() domain.Mode { return t.mode }

// Ledger exposes the position ledger, used by the integration harness.
func (t *Trader) Ledger() *ledger.Ledger { return t.ledger }
