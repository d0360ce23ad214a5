package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/broker"
	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/infra"
	"github.com/beta0629/stock-trading-system-sub000/internal/ledger"
	"github.com/beta0629/stock-trading-system-sub000/internal/notify"
)

// Recorder persists executed trades to durable history.
type Recorder interface {
	Append(ctx context.Context, entry domain.TradeHistoryEntry) error
}

// StatePersister writes the crash-recovery snapshot after each executed order.
type StatePersister interface {
	SaveState(ctx context.Context) error
}

// Request is one order to execute, always derived from a signal.
type Request struct {
	Signal   domain.Signal
	Quantity int64
	Price    decimal.Decimal // zero = market
	Kind     domain.OrderKind
}

// IdempotencyKey derives the order ID from the signal and a one-minute time
// bucket. Two loops reacting to the same signal in the same minute produce
// the same key, which the ledger then collapses into a single fill.
func IdempotencyKey(sig domain.Signal, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%s",
		sig.ID, sig.Symbol, sig.Action, now.UTC().Format("200601021504"))
}

// Executor is the only component allowed to call the broker's order
// endpoints. It serializes per symbol, applies the retry policy and circuit
// breaker around the submission, and runs the fixed side-effect sequence:
// fill -> ledger -> history -> state snapshot -> notification.
type Executor struct {
	broker   broker.Broker
	ledger   *ledger.Ledger
	recorder Recorder
	state    StatePersister
	notifier notify.Notifier
	retry    infra.RetryPolicy
	breaker  *infra.CircuitBreaker

	desyncMu sync.Mutex
	desynced map[string]struct{}
}

// New creates an executor. notifier may be notify.Nop{}.
func New(b broker.Broker, l *ledger.Ledger, rec Recorder, st StatePersister, n notify.Notifier) *Executor {
	return &Executor{
		broker:   b,
		ledger:   l,
		recorder: rec,
		state:    st,
		notifier: n,
		retry:    infra.DefaultRetryPolicy(),
		breaker:  infra.DefaultBreaker("order_gateway"),
	}
}

// Breaker exposes the gateway breaker state for health reporting.
func (e *Executor) Breaker() infra.BreakerState { return e.breaker.State() }

// Execute submits the order and applies its fill. Duplicate requests (same
// idempotency key) return the already-applied result without a second broker
// call.
func (e *Executor) Execute(ctx context.Context, req Request) (domain.Order, error) {
	if req.Quantity <= 0 {
		return domain.Order{}, &domain.RejectedOrderError{Op: "execute", Reason: "non-positive quantity"}
	}
	if req.Signal.Action != domain.ActionBuy && req.Signal.Action != domain.ActionSell {
		return domain.Order{}, &domain.RejectedOrderError{Op: "execute", Reason: "signal action must be BUY or SELL"}
	}

	sym := req.Signal.Symbol
	now := time.Now()
	key := IdempotencyKey(req.Signal, now)

	e.ledger.LockSymbol(sym)
	defer e.ledger.UnlockSymbol(sym)

	if e.ledger.Applied(key) {
		slog.Info("Duplicate execution suppressed", slog.String("order_id", key), slog.String("symbol", sym))
		return domain.Order{ID: key, Symbol: sym, Action: req.Signal.Action, Status: domain.OrderExecuted}, nil
	}

	if req.Signal.Action == domain.ActionSell {
		// Holdings may have changed between the caller's read and this lock;
		// only the quantity under the symbol lock counts.
		pos, held := e.ledger.Get(sym)
		if !held || pos.Quantity <= 0 {
			return domain.Order{}, &domain.RejectedOrderError{Op: "execute", Reason: sym + " not held"}
		}
		if req.Quantity > pos.Quantity {
			slog.Warn("Sell quantity clamped to holdings",
				slog.String("symbol", sym),
				slog.Int64("requested", req.Quantity),
				slog.Int64("held", pos.Quantity))
			req.Quantity = pos.Quantity
		}
	}

	if !e.breaker.Allow() {
		return domain.Order{}, fmt.Errorf("order gateway circuit open, %s order for %s not submitted", req.Signal.Action, sym)
	}

	if e.isDesynced(sym) {
		if err := e.resync(ctx, sym); err != nil {
			return domain.Order{}, fmt.Errorf("resync %s before order: %w", sym, err)
		}
	}

	order := domain.Order{
		ID:        key,
		Symbol:    sym,
		Market:    req.Signal.Market,
		Action:    req.Signal.Action,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Kind:      req.Kind,
		Status:    domain.OrderReceived,
		CreatedAt: now,
	}

	bReq := broker.OrderRequest{
		Symbol:   sym,
		Market:   req.Signal.Market,
		Quantity: req.Quantity,
		Price:    req.Price,
		Kind:     req.Kind,
	}

	var res broker.OrderResult
	err := e.retry.Do(ctx, string(req.Signal.Action)+" "+sym, func() error {
		var callErr error
		if req.Signal.Action == domain.ActionBuy {
			res, callErr = e.broker.Buy(ctx, bReq)
		} else {
			res, callErr = e.broker.Sell(ctx, bReq)
		}
		return callErr
	})
	if err != nil {
		if domain.IsRejected(err) {
			order.Status = domain.OrderRejected
			slog.Warn("Order rejected",
				slog.String("symbol", sym),
				slog.String("action", string(req.Signal.Action)),
				slog.Any("error", err))
			return order, err
		}
		if domain.IsInvalidFill(err) {
			// The broker took the order but the fill cannot be trusted.
			// Broker truth replaces the local view before the symbol trades again.
			e.markDesynced(sym)
			if rerr := e.resync(ctx, sym); rerr != nil {
				slog.Error("Resync after unverifiable fill failed", slog.String("symbol", sym), slog.Any("error", rerr))
			}
			order.Status = domain.OrderCanceled
			return order, fmt.Errorf("submit %s %s: %w", req.Signal.Action, sym, err)
		}
		e.breaker.RecordFailure()
		order.Status = domain.OrderCanceled
		return order, fmt.Errorf("submit %s %s: %w", req.Signal.Action, sym, err)
	}
	e.breaker.RecordSuccess()

	order.Status = res.Status
	order.ExecutedPrice = res.ExecutedPrice
	order.ExecutedQty = res.ExecutedQty

	prev, held := e.ledger.Get(sym)
	pos, err := e.ledger.ApplyFill(order)
	if err != nil {
		if domain.IsInvalidFill(err) {
			// Broker accepted what the ledger says is impossible: broker truth
			// wins. Quarantine the symbol until it is re-synced.
			e.markDesynced(sym)
			if rerr := e.resync(ctx, sym); rerr != nil {
				slog.Error("Resync after invalid fill failed", slog.String("symbol", sym), slog.Any("error", rerr))
			}
		}
		return order, fmt.Errorf("apply fill %s: %w", order.ID, err)
	}

	realized := decimal.Zero
	if order.Action == domain.ActionSell && held {
		realized = order.ExecutedPrice.Sub(prev.AvgPrice).Mul(decimal.NewFromInt(order.ExecutedQty))
	}

	slog.Info("Order executed",
		slog.String("order_id", order.ID),
		slog.String("symbol", sym),
		slog.String("action", string(order.Action)),
		slog.Int64("qty", order.ExecutedQty),
		slog.String("price", order.ExecutedPrice.String()),
		slog.Int64("remaining", pos.Quantity))

	e.persist(ctx, order, req.Signal, realized)
	return order, nil
}

// ForceSell liquidates the full held quantity at market, used for risk exits.
// The reason becomes the synthetic signal's source.
func (e *Executor) ForceSell(ctx context.Context, symbol string, market domain.Market, reason string) (domain.Order, error) {
	pos, ok := e.ledger.Get(symbol)
	if !ok || pos.Quantity <= 0 {
		return domain.Order{}, &domain.RejectedOrderError{Op: "force sell", Reason: symbol + " not held"}
	}

	now := time.Now()
	sig := domain.Signal{
		ID:         fmt.Sprintf("exit-%s-%d", symbol, now.UnixNano()),
		Symbol:     symbol,
		Market:     market,
		Action:     domain.ActionSell,
		Strength:   domain.StrengthStrong,
		Confidence: 1.0,
		Source:     reason,
		At:         now,
	}

	order, err := e.Execute(ctx, Request{
		Signal:   sig,
		Quantity: pos.Quantity,
		Kind:     domain.OrderMarket,
	})
	if err != nil {
		return order, err
	}

	e.notifyEvent(ctx, notify.Event{
		Kind:  notify.KindForcedExit,
		Title: fmt.Sprintf("Forced exit %s", symbol),
		Message: fmt.Sprintf("%s: sold %d @ %s",
			reason, order.ExecutedQty, order.ExecutedPrice),
		At: now,
	})
	return order, nil
}

// persist runs the post-fill side effects. History and state failures are
// logged, not returned: the fill is already applied and must not be undone.
func (e *Executor) persist(ctx context.Context, order domain.Order, sig domain.Signal, realized decimal.Decimal) {
	entry := domain.TradeHistoryEntry{
		Order:       order,
		Signal:      sig,
		RealizedPnL: realized,
		At:          time.Now(),
	}
	if err := e.recorder.Append(ctx, entry); err != nil {
		slog.Error("Trade history append failed", slog.String("order_id", order.ID), slog.Any("error", err))
	}
	if err := e.state.SaveState(ctx); err != nil {
		slog.Error("State snapshot failed", slog.String("order_id", order.ID), slog.Any("error", err))
	}

	e.notifyEvent(ctx, notify.Event{
		Kind:  notify.KindTradeExecuted,
		Title: fmt.Sprintf("%s %s", order.Action, order.Symbol),
		Message: fmt.Sprintf("%d shares @ %s (%s)",
			order.ExecutedQty, order.ExecutedPrice, sig.Source),
		At: time.Now(),
	})
}

func (e *Executor) notifyEvent(ctx context.Context, ev notify.Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		slog.Warn("Notification failed", slog.String("kind", string(ev.Kind)), slog.Any("error", err))
	}
}

func (e *Executor) isDesynced(symbol string) bool {
	e.desyncMu.Lock()
	defer e.desyncMu.Unlock()
	_, ok := e.desynced[symbol]
	return ok
}

func (e *Executor) markDesynced(symbol string) {
	e.desyncMu.Lock()
	defer e.desyncMu.Unlock()
	if e.desynced == nil {
		e.desynced = make(map[string]struct{})
	}
	e.desynced[symbol] = struct{}{}
}

// resync overwrites one symbol's ledger entry with the broker's holdings.
func (e *Executor) resync(ctx context.Context, symbol string) error {
	positions, err := e.broker.Positions(ctx)
	if err != nil {
		return err
	}

	var found *domain.Position
	for i := range positions {
		if positions[i].Symbol == symbol {
			found = &positions[i]
			break
		}
	}
	e.ledger.ReplaceSymbol(symbol, found)

	e.desyncMu.Lock()
	delete(e.desynced, symbol)
	e.desyncMu.Unlock()

	qty := int64(0)
	if found != nil {
		qty = found.Quantity
	}
	slog.Info("Ledger re-synced from broker", slog.String("symbol", symbol), slog.Int64("qty", qty))
	return nil
}
