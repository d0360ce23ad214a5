package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
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
	"github.com/beta0629/stock-trading-system-sub000/internal/signal"
	"github.com/beta0629/stock-trading-system-sub000/internal/storage"
)

// confirmEnv must be set to "YES" before LIVE mode will start. The latch
// exists so a config typo alone can never reach the real broker.
const confirmEnv = "CONFIRM_REAL_MONEY"

// New builds a fully wired Trader from the config at cfgPath. Nothing runs
// until Run is called.
func New(cfgPath string) (*Trader, error) {
	cfg, err := infra.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(infra.NewLogger(cfg))
	infra.PrintBanner(cfg)

	workDir := infra.GetWorkspaceDir()
	if err := infra.EnsureDir(workDir); err != nil {
		return nil, fmt.Errorf("workspace dir: %w", err)
	}
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return nil, err
	}

	t := &Trader{cfg: cfg, unlock: unlock}
	if err := t.wire(workDir); err != nil {
		unlock()
		return nil, err
	}
	return t, nil
}

func (t *Trader) wire(workDir string) error {
	cfg := t.cfg

	stateStore, err := storage.NewStateStore(filepath.Join(workDir, "state"))
	if err != nil {
		return err
	}
	t.state = stateStore

	history, err := storage.NewHistoryStore(filepath.Join(workDir, "trades.db"))
	if err != nil {
		return err
	}
	t.history = history

	b, mode, err := t.buildBroker()
	if err != nil {
		return err
	}
	t.broker = b
	t.mode = mode
	slog.Info("🔌 Broker ready", slog.String("mode", string(mode)))

	t.ledger = ledger.New()
	if err := t.restoreState(); err != nil {
		slog.Warn("State restore failed, starting empty", slog.Any("error", err))
	}

	t.calendar = domain.NewCalendar(map[domain.Market]domain.TradingHours{
		domain.MarketKR: marketHours(cfg.Markets.KR, "Asia/Seoul", 9*3600),
		domain.MarketUS: marketHours(cfg.Markets.US, "America/New_York", -5*3600),
	})

	t.notifier = notify.Nop{}
	if tg := notify.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID); tg != nil {
		t.notifier = tg
		slog.Info("📨 Telegram notifications enabled")
	}

	t.fx = infra.NewExchangeRateClient(cfg.API.ExchangeRate.URL, cfg.API.ExchangeRate.PollIntervalSec)
	t.source = signal.NewTechnicalSource()
	t.limits = risk.LimitsFromConfig(cfg)

	t.exec = executor.New(t.broker, t.ledger, t.history, t, t.notifier)

	t.router = router.New(router.Params{
		Account:       t.broker,
		Placer:        t.exec,
		Ledger:        t.ledger,
		Counter:       t.history,
		FX:            t.fx,
		Calendar:      t.calendar,
		Limits:        t.limits,
		MinConfidence: cfg.Trading.MinConfidence,
		TradeInterval: time.Duration(cfg.Trading.TradeIntervalSec) * time.Second,
		Blocked:       cfg.Trading.BlockedSymbols,
	})

	t.buildWatchlist()
	t.buildScheduler()
	return nil
}

// buildBroker selects the execution path once at startup and pairs it with a
// market-data source. LIVE requires the confirmation latch; a failed live
// connection falls back to SIMULATION only when the config allows it.
// Execution may be simulated but quotes stay real: the KIS gateway when
// credentials exist, Yahoo Finance otherwise.
func (t *Trader) buildBroker() (broker.Broker, domain.Mode, error) {
	cfg := t.cfg

	if domain.Mode(cfg.Trading.Mode) == domain.ModeLive {
		if os.Getenv(confirmEnv) != "YES" {
			return nil, "", fmt.Errorf(
				"LIVE mode requires %s=YES in the environment; refusing to trade real money without it", confirmEnv)
		}

		client := kis.NewClient(kis.Config{
			BaseURL:   cfg.API.KIS.BaseURL,
			AppKey:    cfg.API.KIS.AppKey,
			AppSecret: cfg.API.KIS.AppSecret,
			AccountNo: cfg.API.KIS.AccountNo,
			Virtual:   cfg.API.KIS.Virtual,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.Connect(ctx); err != nil {
			if !cfg.Trading.FallbackToSim {
				return nil, "", fmt.Errorf("live broker connect: %w", err)
			}
			slog.Warn("⚠️ Live broker unreachable, falling back to SIMULATION", slog.Any("error", err))
		} else {
			t.kis = client
			t.quotes = client
			return client, domain.ModeLive, nil
		}
	}

	sim := broker.NewSimBroker(decimal.NewFromInt(cfg.Trading.SimInitialCash))
	t.sim = sim
	t.quotes = t.buildQuoteSource()
	return sim, domain.ModeSimulation, nil
}

// buildQuoteSource picks the market-data client backing a simulated session.
// KIS quote endpoints need no order authority, so credentials alone buy the
// realtime feed; without them Yahoo Finance quotes keep the watchlist priced.
func (t *Trader) buildQuoteSource() quoteSource {
	k := t.cfg.API.KIS
	if k.AppKey != "" && k.AppSecret != "" {
		client := kis.NewClient(kis.Config{
			BaseURL:   k.BaseURL,
			AppKey:    k.AppKey,
			AppSecret: k.AppSecret,
			AccountNo: k.AccountNo,
			Virtual:   k.Virtual,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.Connect(ctx); err != nil {
			slog.Warn("KIS quote session failed, using Yahoo Finance quotes", slog.Any("error", err))
		} else {
			t.kis = client
			slog.Info("📈 Market data via KIS", slog.Bool("virtual", k.Virtual))
			return client
		}
	}

	slog.Info("📈 Market data via Yahoo Finance")
	return infra.NewQuoteClient()
}

// restoreState loads the latest snapshot into the ledger. In LIVE mode the
// broker's holdings override the snapshot; applied order IDs always come from
// the snapshot so replayed fills stay no-ops.
func (t *Trader) restoreState() error {
	saved, err := t.state.LoadLatest()
	if err != nil {
		return err
	}

	var positions []domain.Position
	var appliedIDs []string
	if saved != nil {
		positions = saved.Positions
		appliedIDs = saved.AppliedIDs
	}

	if t.mode == domain.ModeLive {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		brokerTruth, berr := t.broker.Positions(ctx)
		if berr != nil {
			slog.Warn("Broker position query failed, using snapshot", slog.Any("error", berr))
		} else {
			positions = brokerTruth
		}
	}

	t.ledger.Restore(positions, appliedIDs)
	slog.Info("📂 State restored",
		slog.Int("positions", len(positions)),
		slog.Int("applied_ids", len(appliedIDs)))
	return nil
}

func marketHours(h infra.MarketHours, tz string, fallbackOffset int) domain.TradingHours {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.FixedZone(tz, fallbackOffset)
	}
	return domain.TradingHours{Open: h.Open, Close: h.Close, Location: loc}
}
