package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/pkg/quant"
)

// Position represents the holding of one symbol.
// Quantity is whole shares; money values are decimal.
type Position struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name,omitempty"`
	Market       Market          `json:"market"`
	Quantity     int64           `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	EntryTime    time.Time       `json:"entry_time"`
}

// MarketValue returns CurrentPrice * Quantity.
func (p *Position) MarketValue() decimal.Decimal {
	return quant.Notional(p.CurrentPrice, p.Quantity)
}

// UnrealizedPnL returns (CurrentPrice - AvgPrice) * Quantity.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity))
}

// PnLPercent returns the unrealized return in percent against the average
// entry price.
func (p *Position) PnLPercent() decimal.Decimal {
	return quant.PnLPercent(p.AvgPrice, p.CurrentPrice)
}

// HoldingTime returns how long the position has been open.
func (p *Position) HoldingTime(now time.Time) time.Duration {
	if p.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(p.EntryTime)
}
