package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/pkg/quant"
	"github.com/beta0629/stock-trading-system-sub000/pkg/safe"
)

// SimBroker fabricates deterministic fills at the last known price without
// network I/O. It keeps its own cash and holdings so the engine can reconcile
// against "broker truth" exactly as it would against the live gateway.
type SimBroker struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	prices    map[string]decimal.Decimal
	positions map[string]*domain.Position
	seq       int64
}

// NewSimBroker creates a simulated broker with the given starting cash.
func NewSimBroker(initialCash decimal.Decimal) *SimBroker {
	return &SimBroker{
		cash:      initialCash,
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]*domain.Position),
	}
}

// UpdatePrice sets the last known price used for market fills.
func (s *SimBroker) UpdatePrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	if p, ok := s.positions[symbol]; ok {
		p.CurrentPrice = price
	}
}

// Connect is a no-op; the simulated session is always up.
func (s *SimBroker) Connect(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *SimBroker) Close() error { return nil }

// Balance returns the virtual account snapshot.
func (s *SimBroker) Balance(ctx context.Context) (domain.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eval := s.cash
	for _, p := range s.positions {
		eval = eval.Add(p.MarketValue())
	}
	return domain.AccountSnapshot{Cash: s.cash, Available: s.cash, TotalEval: eval}, nil
}

// Positions returns copies of the simulated holdings.
func (s *SimBroker) Positions(ctx context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out, nil
}

// Price returns the last known price for symbol.
func (s *SimBroker) Price(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price available for %s", symbol)
	}
	return price, nil
}

// Buy executes a simulated buy against the virtual cash balance.
func (s *SimBroker) Buy(ctx context.Context, req OrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, err := s.fillPrice(req)
	if err != nil {
		return OrderResult{}, err
	}

	cost := quant.Notional(price, req.Quantity)
	if cost.GreaterThan(s.cash) {
		return OrderResult{}, &domain.RejectedOrderError{
			Op:     "sim buy",
			Reason: fmt.Sprintf("insufficient cash: need %s, have %s", cost, s.cash),
		}
	}
	s.cash = s.cash.Sub(cost)

	pos, ok := s.positions[req.Symbol]
	if !ok {
		s.positions[req.Symbol] = &domain.Position{
			Symbol:       req.Symbol,
			Market:       req.Market,
			Quantity:     req.Quantity,
			AvgPrice:     price,
			CurrentPrice: price,
		}
	} else {
		pos.AvgPrice = quant.WeightedAvg(pos.Quantity, pos.AvgPrice, req.Quantity, price)
		pos.Quantity = safe.Add(pos.Quantity, req.Quantity)
		pos.CurrentPrice = price
	}

	result := s.result(price, req.Quantity)
	slog.Info("SIM fill",
		slog.String("side", "BUY"),
		slog.String("symbol", req.Symbol),
		slog.Int64("qty", req.Quantity),
		slog.String("price", price.String()))
	return result, nil
}

// Sell executes a simulated sell against the virtual holdings.
func (s *SimBroker) Sell(ctx context.Context, req OrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, err := s.fillPrice(req)
	if err != nil {
		return OrderResult{}, err
	}

	pos, ok := s.positions[req.Symbol]
	if !ok || pos.Quantity < req.Quantity {
		held := int64(0)
		if ok {
			held = pos.Quantity
		}
		return OrderResult{}, &domain.RejectedOrderError{
			Op:     "sim sell",
			Reason: fmt.Sprintf("insufficient holdings: need %d, have %d", req.Quantity, held),
		}
	}

	pos.Quantity = safe.Sub(pos.Quantity, req.Quantity)
	pos.CurrentPrice = price
	if pos.Quantity == 0 {
		delete(s.positions, req.Symbol)
	}
	s.cash = s.cash.Add(quant.Notional(price, req.Quantity))

	result := s.result(price, req.Quantity)
	slog.Info("SIM fill",
		slog.String("side", "SELL"),
		slog.String("symbol", req.Symbol),
		slog.Int64("qty", req.Quantity),
		slog.String("price", price.String()))
	return result, nil
}

// fillPrice resolves the execution price: limit orders fill at their limit,
// market orders at the last known price. Caller holds the mutex.
func (s *SimBroker) fillPrice(req OrderRequest) (decimal.Decimal, error) {
	if req.Quantity <= 0 {
		return decimal.Zero, &domain.RejectedOrderError{Op: "sim order", Reason: "non-positive quantity"}
	}
	if req.Kind == domain.OrderLimit && req.Price.Sign() > 0 {
		return req.Price, nil
	}
	price, ok := s.prices[req.Symbol]
	if !ok {
		return decimal.Zero, &domain.RejectedOrderError{
			Op:     "sim order",
			Reason: fmt.Sprintf("no price available for %s", req.Symbol),
		}
	}
	return price, nil
}

func (s *SimBroker) result(price decimal.Decimal, qty int64) OrderResult {
	s.seq++
	return OrderResult{
		OrderID:       fmt.Sprintf("SIM%08d", s.seq),
		Status:        domain.OrderExecuted,
		ExecutedPrice: price,
		ExecutedQty:   qty,
	}
}
