package ledger

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/pkg/quant"
	"github.com/beta0629/stock-trading-system-sub000/pkg/safe"
)

// Ledger is the single source of truth for holdings. It exclusively owns the
// position map; every other component reads copies through its accessors.
//
// Two locking layers:
//   - mu guards the maps themselves (snapshot reads vs. fill writes).
//   - per-symbol mutexes serialize the executor's size -> execute -> apply
//     sequence so two loops reacting to the same symbol in the same instant
//     cannot double-buy or double-sell.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	applied   map[string]struct{} // executed order IDs, for idempotent fills

	trades   int
	wins     int
	losses   int
	realized decimal.Decimal

	lockMu sync.Mutex
	symMu  map[string]*sync.Mutex
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*domain.Position),
		applied:   make(map[string]struct{}),
		realized:  decimal.Zero,
		symMu:     make(map[string]*sync.Mutex),
	}
}

// LockSymbol serializes all multi-step operations on one symbol.
// Callers must pair it with UnlockSymbol.
func (l *Ledger) LockSymbol(symbol string) {
	l.symbolMutex(symbol).Lock()
}

// UnlockSymbol releases the per-symbol lock.
func (l *Ledger) UnlockSymbol(symbol string) {
	l.symbolMutex(symbol).Unlock()
}

func (l *Ledger) symbolMutex(symbol string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	m, ok := l.symMu[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.symMu[symbol] = m
	}
	return m
}

// Get returns a snapshot copy of the position for symbol.
func (l *Ledger) Get(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Has reports whether symbol is currently held.
func (l *Ledger) Has(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[symbol]
	return ok
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Applied reports whether the order ID has already been applied.
func (l *Ledger) Applied(orderID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.applied[orderID]
	return ok
}

// ApplyFill mutates holdings from an executed order. Idempotent per order ID:
// re-applying a known ID is a no-op. BUY recomputes the quantity-weighted
// average price; SELL reduces quantity, realizes PnL, and removes the entry at
// zero. A SELL exceeding current holdings fails with InvalidFillError and
// leaves the ledger unchanged.
func (l *Ledger) ApplyFill(order domain.Order) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.applied[order.ID]; dup {
		slog.Debug("Duplicate fill ignored", slog.String("order_id", order.ID), slog.String("symbol", order.Symbol))
		if p, ok := l.positions[order.Symbol]; ok {
			return *p, nil
		}
		return domain.Position{Symbol: order.Symbol, Market: order.Market}, nil
	}

	if order.ExecutedQty <= 0 {
		return domain.Position{}, &domain.InvalidFillError{Symbol: order.Symbol, Reason: "non-positive executed quantity"}
	}

	switch order.Action {
	case domain.ActionBuy:
		pos, ok := l.positions[order.Symbol]
		if !ok {
			pos = &domain.Position{
				Symbol:       order.Symbol,
				Market:       order.Market,
				Quantity:     order.ExecutedQty,
				AvgPrice:     order.ExecutedPrice,
				CurrentPrice: order.ExecutedPrice,
				EntryTime:    order.CreatedAt,
			}
			l.positions[order.Symbol] = pos
		} else {
			pos.AvgPrice = quant.WeightedAvg(pos.Quantity, pos.AvgPrice, order.ExecutedQty, order.ExecutedPrice)
			pos.Quantity = safe.Add(pos.Quantity, order.ExecutedQty)
			pos.CurrentPrice = order.ExecutedPrice
		}
		l.applied[order.ID] = struct{}{}
		l.trades++
		return *pos, nil

	case domain.ActionSell:
		pos, ok := l.positions[order.Symbol]
		if !ok {
			return domain.Position{}, &domain.InvalidFillError{Symbol: order.Symbol, Reason: "sell fill for symbol not held"}
		}
		if order.ExecutedQty > pos.Quantity {
			return domain.Position{}, &domain.InvalidFillError{Symbol: order.Symbol, Reason: "sell fill exceeds held quantity"}
		}

		pnl := order.ExecutedPrice.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(order.ExecutedQty))
		l.realized = l.realized.Add(pnl)
		switch pnl.Sign() {
		case 1:
			l.wins++
		case -1:
			l.losses++
		}

		pos.Quantity = safe.Sub(pos.Quantity, order.ExecutedQty)
		pos.CurrentPrice = order.ExecutedPrice
		// Average price is left unchanged on partial sells.
		result := *pos
		if pos.Quantity == 0 {
			delete(l.positions, order.Symbol)
		}
		l.applied[order.ID] = struct{}{}
		l.trades++
		return result, nil

	default:
		return domain.Position{}, &domain.InvalidFillError{Symbol: order.Symbol, Reason: "unsupported fill action " + string(order.Action)}
	}
}

// SetPrice updates the last known price for a held symbol. No-op when the
// symbol is not held.
func (l *Ledger) SetPrice(symbol string, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[symbol]; ok {
		p.CurrentPrice = price
	}
}

// ReplaceSymbol overwrites one symbol's entry with the broker's truth.
// Used to recover from a detected ledger/broker desync. A nil position
// removes the entry.
func (l *Ledger) ReplaceSymbol(symbol string, pos *domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos == nil || pos.Quantity == 0 {
		delete(l.positions, symbol)
		return
	}
	cp := *pos
	l.positions[symbol] = &cp
}

// Snapshot returns copies of all positions, sorted by symbol.
func (l *Ledger) Snapshot() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// AppliedIDs returns the executed order IDs, for state persistence.
func (l *Ledger) AppliedIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.applied))
	for id := range l.applied {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Restore replaces the in-memory state wholesale. It must be called only at
// startup, before any scheduler loop starts.
func (l *Ledger) Restore(positions []domain.Position, appliedIDs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]*domain.Position, len(positions))
	for i := range positions {
		p := positions[i]
		if p.Quantity <= 0 {
			continue
		}
		l.positions[p.Symbol] = &p
	}

	l.applied = make(map[string]struct{}, len(appliedIDs))
	for _, id := range appliedIDs {
		l.applied[id] = struct{}{}
	}
}

// Stats aggregates realized and unrealized PnL for reporting.
func (l *Ledger) Stats() domain.TradeStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	unrealized := decimal.Zero
	for _, p := range l.positions {
		unrealized = unrealized.Add(p.UnrealizedPnL())
	}

	return domain.TradeStats{
		Trades:        l.trades,
		Wins:          l.wins,
		Losses:        l.losses,
		RealizedPnL:   l.realized,
		UnrealizedPnL: unrealized,
	}
}
