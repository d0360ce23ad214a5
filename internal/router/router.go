package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/executor"
	"github.com/beta0629/stock-trading-system-sub000/internal/ledger"
	"github.com/beta0629/stock-trading-system-sub000/internal/risk"
)

// OrderPlacer submits the routed order. Satisfied by *executor.Executor.
type OrderPlacer interface {
	Execute(ctx context.Context, req executor.Request) (domain.Order, error)
}

// AccountView is the read side of the broker the router needs: a fresh
// balance before sizing and the current price.
type AccountView interface {
	Balance(ctx context.Context) (domain.AccountSnapshot, error)
	Price(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error)
}

// TradeCounter answers how many trades already executed today for a symbol.
type TradeCounter interface {
	CountTradesToday(ctx context.Context, symbol string, now time.Time) (int, error)
}

// RateSource provides the USD/KRW rate for sizing US buys from a KRW balance.
type RateSource interface {
	Rate() decimal.Decimal
}

// Params wires a Router.
type Params struct {
	Account       AccountView
	Placer        OrderPlacer
	Ledger        *ledger.Ledger
	Counter       TradeCounter
	FX            RateSource
	Calendar      *domain.Calendar
	Limits        risk.Limits
	MinConfidence float64
	TradeInterval time.Duration
	Blocked       []string
	Now           func() time.Time // nil = time.Now; the replayer injects event time
}

// Router decides which signals become orders. One routing pass processes the
// highest-confidence signals first and places at most one order per symbol.
type Router struct {
	account       AccountView
	placer        OrderPlacer
	ledger        *ledger.Ledger
	counter       TradeCounter
	fx            RateSource
	calendar      *domain.Calendar
	limits        risk.Limits
	minConfidence float64
	tradeInterval time.Duration
	blocked       map[string]struct{}

	mu        sync.Mutex
	lastTrade map[string]time.Time

	now func() time.Time
}

// New creates a router from Params.
func New(p Params) *Router {
	blocked := make(map[string]struct{}, len(p.Blocked))
	for _, s := range p.Blocked {
		blocked[s] = struct{}{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Router{
		account:       p.Account,
		placer:        p.Placer,
		ledger:        p.Ledger,
		counter:       p.Counter,
		fx:            p.FX,
		calendar:      p.Calendar,
		limits:        p.Limits,
		minConfidence: p.MinConfidence,
		tradeInterval: p.TradeInterval,
		blocked:       blocked,
		lastTrade:     make(map[string]time.Time),
		now:           p.Now,
	}
}

// Route processes one batch of signals and returns how many orders executed.
// Signal errors never abort the pass; a failed symbol is skipped and the rest
// continue.
func (r *Router) Route(ctx context.Context, signals []domain.Signal) int {
	cands := make([]domain.Signal, 0, len(signals))
	for _, sig := range signals {
		if sig.Action == domain.ActionHold {
			continue
		}
		if sig.Confidence < r.minConfidence {
			slog.Debug("Signal below confidence floor",
				slog.String("symbol", sig.Symbol),
				slog.Float64("confidence", sig.Confidence),
				slog.Float64("floor", r.minConfidence))
			continue
		}
		cands = append(cands, sig)
	}

	// Highest conviction first; symbol breaks ties so a pass is deterministic.
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		return cands[i].Symbol < cands[j].Symbol
	})

	executed := 0
	seen := make(map[string]struct{}, len(cands))
	for _, sig := range cands {
		if ctx.Err() != nil {
			return executed
		}
		if _, dup := seen[sig.Symbol]; dup {
			continue
		}
		seen[sig.Symbol] = struct{}{}

		if r.routeOne(ctx, sig) {
			executed++
		}
	}
	return executed
}

func (r *Router) routeOne(ctx context.Context, sig domain.Signal) bool {
	now := r.now()

	count, err := r.counter.CountTradesToday(ctx, sig.Symbol, now)
	if err != nil {
		// Unknown trade count means the daily cap cannot be enforced; skip.
		slog.Warn("Trade count unavailable, symbol skipped",
			slog.String("symbol", sig.Symbol), slog.Any("error", err))
		return false
	}

	ok, reason := risk.Eligible(sig.Symbol, sig.Market, r.calendar.Open(sig.Market, now), r.blocked, count, r.limits)
	if !ok {
		slog.Debug("Signal not eligible", slog.String("symbol", sig.Symbol), slog.String("reason", reason))
		return false
	}

	if r.tradeInterval > 0 {
		r.mu.Lock()
		last, traded := r.lastTrade[sig.Symbol]
		r.mu.Unlock()
		if traded && now.Sub(last) < r.tradeInterval {
			slog.Debug("Trade interval not elapsed", slog.String("symbol", sig.Symbol))
			return false
		}
	}

	switch sig.Action {
	case domain.ActionBuy:
		return r.routeBuy(ctx, sig, now)
	case domain.ActionSell:
		return r.routeSell(ctx, sig, now)
	default:
		return false
	}
}

func (r *Router) routeBuy(ctx context.Context, sig domain.Signal, now time.Time) bool {
	if r.ledger.Has(sig.Symbol) {
		slog.Debug("Already holding, buy skipped", slog.String("symbol", sig.Symbol))
		return false
	}
	if r.ledger.Len() >= r.limits.MaxPositions {
		slog.Debug("Max positions reached, buy skipped", slog.String("symbol", sig.Symbol))
		return false
	}

	price, err := r.account.Price(ctx, sig.Symbol, sig.Market)
	if err != nil {
		slog.Warn("Price unavailable", slog.String("symbol", sig.Symbol), slog.Any("error", err))
		return false
	}

	// Balance is fetched per order, never cached across a pass: an earlier
	// order in the same pass already spent part of it.
	bal, err := r.account.Balance(ctx)
	if err != nil {
		slog.Warn("Balance unavailable", slog.String("symbol", sig.Symbol), slog.Any("error", err))
		return false
	}

	available := bal.Available
	if sig.Market == domain.MarketUS {
		// US prices are in USD while the account balance is KRW.
		rate := r.fx.Rate()
		if rate.Sign() <= 0 {
			slog.Warn("Exchange rate unavailable, US buy skipped", slog.String("symbol", sig.Symbol))
			return false
		}
		available = available.DivRound(rate, 8)
	}

	qty := risk.SizeBuy(price, sig.Strength, available, r.ledger.Len(), r.limits)
	if qty <= 0 {
		slog.Debug("Sized to zero, buy skipped",
			slog.String("symbol", sig.Symbol),
			slog.String("price", price.String()),
			slog.String("available", available.String()))
		return false
	}

	order, err := r.placer.Execute(ctx, executor.Request{
		Signal:   sig,
		Quantity: qty,
		Kind:     domain.OrderMarket,
	})
	if err != nil {
		slog.Warn("Buy failed",
			slog.String("symbol", sig.Symbol),
			slog.Int64("qty", qty),
			slog.Any("error", err))
		return false
	}

	r.recordTrade(sig.Symbol, now)
	slog.Info("Routed buy",
		slog.String("symbol", sig.Symbol),
		slog.String("order_id", order.ID),
		slog.Int64("qty", order.ExecutedQty),
		slog.Float64("confidence", sig.Confidence))
	return true
}

func (r *Router) routeSell(ctx context.Context, sig domain.Signal, now time.Time) bool {
	pos, held := r.ledger.Get(sig.Symbol)
	if !held || pos.Quantity <= 0 {
		slog.Debug("Not holding, sell skipped", slog.String("symbol", sig.Symbol))
		return false
	}

	order, err := r.placer.Execute(ctx, executor.Request{
		Signal:   sig,
		Quantity: pos.Quantity,
		Kind:     domain.OrderMarket,
	})
	if err != nil {
		slog.Warn("Sell failed",
			slog.String("symbol", sig.Symbol),
			slog.Int64("qty", pos.Quantity),
			slog.Any("error", err))
		return false
	}

	r.recordTrade(sig.Symbol, now)
	slog.Info("Routed sell",
		slog.String("symbol", sig.Symbol),
		slog.String("order_id", order.ID),
		slog.Int64("qty", order.ExecutedQty),
		slog.Float64("confidence", sig.Confidence))
	return true
}

func (r *Router) recordTrade(symbol string, now time.Time) {
	r.mu.Lock()
	r.lastTrade[symbol] = now
	r.mu.Unlock()
}
