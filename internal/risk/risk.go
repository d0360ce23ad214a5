package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/infra"
	"github.com/beta0629/stock-trading-system-sub000/pkg/quant"
)

// Limits is the immutable risk configuration handed to the pure evaluation
// functions. Everything in this package is a total function over explicit
// inputs; no I/O, which is what makes the engine testable without a broker.
type Limits struct {
	MaxPositions      int
	MaxPositionPct    float64
	MaxPerTradeAmount decimal.Decimal
	MinTradeAmount    decimal.Decimal
	StopLossPct       decimal.Decimal
	TakeProfitPct     decimal.Decimal
	MaxHolding        time.Duration
	MaxDailyTrades    int
}

// LimitsFromConfig converts the trading section of the config.
func LimitsFromConfig(cfg *infra.Config) Limits {
	t := cfg.Trading
	return Limits{
		MaxPositions:      t.MaxPositions,
		MaxPositionPct:    t.MaxPositionPct,
		MaxPerTradeAmount: decimal.NewFromInt(t.MaxPerTradeAmount),
		MinTradeAmount:    decimal.NewFromInt(t.MinTradeAmount),
		StopLossPct:       decimal.NewFromFloat(t.StopLossPct),
		TakeProfitPct:     decimal.NewFromFloat(t.TakeProfitPct),
		MaxHolding:        time.Duration(t.MaxHoldingDays) * 24 * time.Hour,
		MaxDailyTrades:    t.MaxDailyTrades,
	}
}

// strengthScale maps signal strength to the fraction of the configured
// max-position percentage used for sizing.
func strengthScale(s domain.Strength) float64 {
	switch s {
	case domain.StrengthStrong:
		return 1.0
	case domain.StrengthModerate:
		return 0.7
	default:
		return 0.5
	}
}

// SizeBuy returns the whole-share quantity to buy, or 0 to reject.
// The budget is availableCash * maxPositionPct scaled by strength, capped by
// the per-trade amount. Rejected when maxPositions is reached or the resulting
// notional falls below the minimum trade floor.
func SizeBuy(price decimal.Decimal, strength domain.Strength, availableCash decimal.Decimal, openPositions int, lim Limits) int64 {
	if openPositions >= lim.MaxPositions {
		return 0
	}
	if price.Sign() <= 0 || availableCash.Sign() <= 0 {
		return 0
	}

	budget := quant.Pct(availableCash, lim.MaxPositionPct*strengthScale(strength))
	if lim.MaxPerTradeAmount.Sign() > 0 && budget.GreaterThan(lim.MaxPerTradeAmount) {
		budget = lim.MaxPerTradeAmount
	}

	qty := quant.FloorQty(budget, price)
	if qty <= 0 {
		return 0
	}
	if lim.MinTradeAmount.Sign() > 0 && quant.Notional(price, qty).LessThan(lim.MinTradeAmount) {
		return 0
	}
	return qty
}

// ExitReason is the verdict of the position-health check.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitStopLoss
	ExitTakeProfit
	ExitMaxHolding
)

func (r ExitReason) String() string {
	switch r {
	case ExitStopLoss:
		return "STOP_LOSS"
	case ExitTakeProfit:
		return "TAKE_PROFIT"
	case ExitMaxHolding:
		return "MAX_HOLDING_EXCEEDED"
	default:
		return "NONE"
	}
}

// CheckExit decides whether a held position must be closed, by deterministic
// threshold comparison on (currentPrice/avgPrice - 1) * 100 and holding time.
// Positions with invalid data (zero quantity, price or average) are skipped.
func CheckExit(pos domain.Position, currentPrice decimal.Decimal, lim Limits, now time.Time) ExitReason {
	if pos.Quantity <= 0 || pos.AvgPrice.Sign() <= 0 || currentPrice.Sign() <= 0 {
		return ExitNone
	}

	pnlPct := quant.PnLPercent(pos.AvgPrice, currentPrice)

	if lim.StopLossPct.Sign() > 0 && pnlPct.LessThanOrEqual(lim.StopLossPct.Neg()) {
		return ExitStopLoss
	}
	if lim.TakeProfitPct.Sign() > 0 && pnlPct.GreaterThanOrEqual(lim.TakeProfitPct) {
		return ExitTakeProfit
	}
	if lim.MaxHolding > 0 && pos.HoldingTime(now) >= lim.MaxHolding {
		return ExitMaxHolding
	}
	return ExitNone
}

// Eligible gates a symbol before any order is considered. Returns the reason
// when trading is not allowed.
func Eligible(symbol string, market domain.Market, marketOpen bool, blocked map[string]struct{}, dailyTradeCount int, lim Limits) (bool, string) {
	if !marketOpen {
		return false, fmt.Sprintf("%s market is closed", market)
	}
	if _, ok := blocked[symbol]; ok {
		return false, fmt.Sprintf("%s is on the blocked list", symbol)
	}
	if lim.MaxDailyTrades > 0 && dailyTradeCount >= lim.MaxDailyTrades {
		return false, fmt.Sprintf("%s reached max daily trades (%d/%d)", symbol, dailyTradeCount, lim.MaxDailyTrades)
	}
	return true, ""
}
