package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeHistoryEntry records a completed order together with the signal that
// caused it. Append-only; created at execution time, never updated.
type TradeHistoryEntry struct {
	Order       Order           `json:"order"`
	Signal      Signal          `json:"signal"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	At          time.Time       `json:"at"`
}

// TradeStats aggregates executed trades for reporting.
type TradeStats struct {
	Trades        int             `json:"trades"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}
