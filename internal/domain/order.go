package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the requested trade direction. HOLD appears only on signals.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// OrderKind distinguishes market and limit orders.
type OrderKind string

const (
	OrderMarket OrderKind = "MARKET"
	OrderLimit  OrderKind = "LIMIT"
)

// OrderStatus follows RECEIVED -> EXECUTED | PARTIALLY_EXECUTED | REJECTED | CANCELED.
type OrderStatus string

const (
	OrderReceived          OrderStatus = "RECEIVED"
	OrderExecuted          OrderStatus = "EXECUTED"
	OrderPartiallyExecuted OrderStatus = "PARTIALLY_EXECUTED"
	OrderRejected          OrderStatus = "REJECTED"
	OrderCanceled          OrderStatus = "CANCELED"
)

// Order is owned exclusively by the executor until it reaches a terminal state,
// then appended immutably to trade history. ID doubles as the idempotency key.
type Order struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Market        Market          `json:"market"`
	Action        Action          `json:"action"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"` // zero = market price
	Kind          OrderKind       `json:"kind"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	ExecutedQty   int64           `json:"executed_qty"`
}

// IsTerminal reports whether the order can no longer change.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderExecuted, OrderRejected, OrderCanceled:
		return true
	}
	return false
}
