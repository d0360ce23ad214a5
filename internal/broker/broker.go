package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

// OrderRequest is the canonical order submission shape. Price zero means
// market price.
type OrderRequest struct {
	Symbol   string
	Market   domain.Market
	Quantity int64
	Price    decimal.Decimal
	Kind     domain.OrderKind
}

// OrderResult is the broker's confirmation, normalized from the wire format
// at the adapter boundary.
type OrderResult struct {
	OrderID       string
	Status        domain.OrderStatus
	ExecutedPrice decimal.Decimal
	ExecutedQty   int64
}

// Broker abstracts the execution venue. LIVE and SIMULATION are two
// implementations behind this one interface, selected once at startup, so
// downstream code is mode-agnostic.
type Broker interface {
	// Connect establishes the session (token issuance for the live gateway).
	Connect(ctx context.Context) error

	// Balance returns a fresh account snapshot. Never cached across ticks.
	Balance(ctx context.Context) (domain.AccountSnapshot, error)

	// Positions returns the broker's view of current holdings.
	Positions(ctx context.Context) ([]domain.Position, error)

	// Buy submits a buy order.
	Buy(ctx context.Context, req OrderRequest) (OrderResult, error)

	// Sell submits a sell order.
	Sell(ctx context.Context, req OrderRequest) (OrderResult, error)

	// Price returns the current price of a symbol.
	Price(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error)

	// Close releases the session.
	Close() error
}
