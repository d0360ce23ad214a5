package quant

import (
	"github.com/shopspring/decimal"
)

// All money math in the engine goes through decimal.Decimal. Float64 appears only
// at external boundaries (indicator library, wire responses) and is converted here.

var hundred = decimal.NewFromInt(100)

// PnLPercent returns (current/avg - 1) * 100.
// A zero or negative average price yields zero rather than a division panic;
// such positions are treated as invalid upstream.
func PnLPercent(avgPrice, currentPrice decimal.Decimal) decimal.Decimal {
	if avgPrice.Sign() <= 0 {
		return decimal.Zero
	}
	return currentPrice.Div(avgPrice).Sub(decimal.NewFromInt(1)).Mul(hundred)
}

// Notional returns price * qty.
func Notional(price decimal.Decimal, qty int64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(qty))
}

// FloorQty returns the largest whole-share quantity purchasable with amount at
// price. Non-positive price returns 0.
func FloorQty(amount, price decimal.Decimal) int64 {
	if price.Sign() <= 0 {
		return 0
	}
	return amount.Div(price).Floor().IntPart()
}

// WeightedAvg returns the quantity-weighted mean price of an existing lot
// (q1 @ p1) combined with a new lot (q2 @ p2).
func WeightedAvg(q1 int64, p1 decimal.Decimal, q2 int64, p2 decimal.Decimal) decimal.Decimal {
	total := q1 + q2
	if total <= 0 {
		return decimal.Zero
	}
	value := Notional(p1, q1).Add(Notional(p2, q2))
	return value.Div(decimal.NewFromInt(total))
}

// Pct returns base * pct / 100.
func Pct(base decimal.Decimal, pct float64) decimal.Decimal {
	return base.Mul(decimal.NewFromFloat(pct)).Div(hundred)
}
