package domain

import (
	"github.com/shopspring/decimal"
)

// AccountSnapshot is the broker's view of the account at one instant.
// It is refreshed before every sizing decision and never cached across ticks.
type AccountSnapshot struct {
	Cash      decimal.Decimal `json:"cash"`
	Available decimal.Decimal `json:"available"`
	TotalEval decimal.Decimal `json:"total_eval"`
}
