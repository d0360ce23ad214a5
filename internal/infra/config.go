package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

// StockInfo pairs a ticker code with a display name.
type StockInfo struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// MarketHours is the configured session window of one market.
type MarketHours struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// Config holds the full application configuration. It is loaded once at
// startup, validated, and passed into components as an immutable value;
// there is no ambient global configuration.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode              string   `yaml:"mode"` // LIVE | SIMULATION
		FallbackToSim     bool     `yaml:"fallback_to_simulation"`
		MaxPositions      int      `yaml:"max_positions"`
		MaxPositionPct    float64  `yaml:"max_position_pct"`
		MaxPerTradeAmount int64    `yaml:"max_per_trade_amount"`
		MinTradeAmount    int64    `yaml:"min_trade_amount"`
		StopLossPct       float64  `yaml:"stop_loss_pct"`
		TakeProfitPct     float64  `yaml:"take_profit_pct"`
		MaxHoldingDays    int      `yaml:"max_holding_days"`
		MinConfidence     float64  `yaml:"min_confidence"`
		MaxDailyTrades    int      `yaml:"max_daily_trades"`
		TradeIntervalSec  int      `yaml:"trade_interval_sec"`
		BlockedSymbols    []string `yaml:"blocked_symbols"`
		SimInitialCash    int64    `yaml:"sim_initial_cash"`
	} `yaml:"trading"`

	Watchlist struct {
		KR []StockInfo `yaml:"kr"`
		US []StockInfo `yaml:"us"`
	} `yaml:"watchlist"`

	Markets struct {
		KR MarketHours `yaml:"kr"`
		US MarketHours `yaml:"us"`
	} `yaml:"markets"`

	API struct {
		KIS struct {
			BaseURL   string `yaml:"base_url"`
			WSURL     string `yaml:"ws_url"`
			AppKey    string `yaml:"app_key"`
			AppSecret string `yaml:"app_secret"`
			AccountNo string `yaml:"account_no"`
			Virtual   bool   `yaml:"virtual"`
		} `yaml:"kis"`
		ExchangeRate struct {
			URL             string `yaml:"url"`
			PollIntervalSec int    `yaml:"poll_interval_sec"`
		} `yaml:"exchange_rate"`
	} `yaml:"api"`

	Notify struct {
		Telegram struct {
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`
	} `yaml:"notify"`

	Scheduler struct {
		PeriodicIntervalMin int `yaml:"periodic_interval_min"`
		RealtimeIntervalSec int `yaml:"realtime_interval_sec"`
		HealthIntervalSec   int `yaml:"health_interval_sec"`
	} `yaml:"scheduler"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies environment-variable
// overrides for secrets, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	t := &cfg.Trading
	if t.Mode == "" {
		t.Mode = string(domain.ModeSimulation)
	}
	if t.MaxPositions == 0 {
		t.MaxPositions = 10
	}
	if t.MaxPositionPct == 0 {
		t.MaxPositionPct = 20
	}
	if t.MaxDailyTrades == 0 {
		t.MaxDailyTrades = 2
	}
	if t.SimInitialCash == 0 {
		t.SimInitialCash = 10_000_000
	}
	if cfg.Markets.KR.Open == "" {
		cfg.Markets.KR = MarketHours{Open: "09:00", Close: "15:30"}
	}
	if cfg.Markets.US.Open == "" {
		cfg.Markets.US = MarketHours{Open: "09:30", Close: "16:00"}
	}
	s := &cfg.Scheduler
	if s.PeriodicIntervalMin == 0 {
		s.PeriodicIntervalMin = 30
	}
	if s.RealtimeIntervalSec == 0 {
		s.RealtimeIntervalSec = 10
	}
	if s.HealthIntervalSec == 0 {
		s.HealthIntervalSec = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate returns a ConfigurationError for the first invalid field.
// Configuration errors are fatal at startup only.
func (c *Config) Validate() error {
	t := c.Trading
	if t.Mode != string(domain.ModeLive) && t.Mode != string(domain.ModeSimulation) {
		return &domain.ConfigurationError{Field: "trading.mode", Reason: fmt.Sprintf("must be LIVE or SIMULATION, got %q", t.Mode)}
	}
	if t.MaxPositions <= 0 {
		return &domain.ConfigurationError{Field: "trading.max_positions", Reason: "must be positive"}
	}
	if t.MaxPositionPct <= 0 || t.MaxPositionPct > 100 {
		return &domain.ConfigurationError{Field: "trading.max_position_pct", Reason: "must be in (0, 100]"}
	}
	if t.StopLossPct < 0 || t.TakeProfitPct < 0 {
		return &domain.ConfigurationError{Field: "trading.stop_loss_pct", Reason: "percentages must be non-negative"}
	}
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return &domain.ConfigurationError{Field: "trading.min_confidence", Reason: "must be in [0, 1]"}
	}
	if t.Mode == string(domain.ModeLive) {
		k := c.API.KIS
		if k.AppKey == "" || k.AppSecret == "" || k.AccountNo == "" {
			return &domain.ConfigurationError{Field: "api.kis", Reason: "LIVE mode requires app_key, app_secret and account_no"}
		}
	}
	if len(c.Watchlist.KR) == 0 && len(c.Watchlist.US) == 0 {
		return &domain.ConfigurationError{Field: "watchlist", Reason: "at least one symbol is required"}
	}
	return nil
}

// overrideWithEnv lets environment variables replace secrets from the file.
// Environment always wins so keys can stay out of the config on disk.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("STOCK_KIS_APP_KEY"); v != "" {
		cfg.API.KIS.AppKey = v
	}
	if v := os.Getenv("STOCK_KIS_APP_SECRET"); v != "" {
		cfg.API.KIS.AppSecret = v
	}
	if v := os.Getenv("STOCK_KIS_ACCOUNT_NO"); v != "" {
		cfg.API.KIS.AccountNo = v
	}
	if v := os.Getenv("STOCK_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
	}
	if v := os.Getenv("STOCK_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notify.Telegram.ChatID = v
	}
}
