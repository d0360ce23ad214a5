package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSimBroker_BuyDeductsCash(t *testing.T) {
	ctx := context.Background()
	s := NewSimBroker(d("10000000"))
	s.UpdatePrice("005930", d("70000"))

	res, err := s.Buy(ctx, OrderRequest{
		Symbol: "005930", Market: domain.MarketKR, Quantity: 10, Kind: domain.OrderMarket,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.OrderExecuted {
		t.Errorf("expected executed status, got %s", res.Status)
	}
	if !res.ExecutedPrice.Equal(d("70000")) || res.ExecutedQty != 10 {
		t.Errorf("unexpected fill: %d @ %s", res.ExecutedQty, res.ExecutedPrice)
	}

	bal, err := s.Balance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Cash.Equal(d("9300000")) {
		t.Errorf("expected cash 9300000, got %s", bal.Cash)
	}
	// Holdings are valued at the fill price, so total eval is unchanged.
	if !bal.TotalEval.Equal(d("10000000")) {
		t.Errorf("expected eval 10000000, got %s", bal.TotalEval)
	}
}

func TestSimBroker_InsufficientCashRejected(t *testing.T) {
	ctx := context.Background()
	s := NewSimBroker(d("100000"))
	s.UpdatePrice("005930", d("70000"))

	_, err := s.Buy(ctx, OrderRequest{
		Symbol: "005930", Market: domain.MarketKR, Quantity: 2, Kind: domain.OrderMarket,
	})
	if !domain.IsRejected(err) {
		t.Fatalf("expected RejectedOrderError, got %v", err)
	}

	// Cash untouched by the rejected order.
	bal, _ := s.Balance(ctx)
	if !bal.Cash.Equal(d("100000")) {
		t.Errorf("rejected buy changed cash: %s", bal.Cash)
	}
}

func TestSimBroker_SellRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSimBroker(d("1000000"))
	s.UpdatePrice("005930", d("70000"))

	if _, err := s.Buy(ctx, OrderRequest{Symbol: "005930", Market: domain.MarketKR, Quantity: 10, Kind: domain.OrderMarket}); err != nil {
		t.Fatal(err)
	}

	s.UpdatePrice("005930", d("77000"))
	res, err := s.Sell(ctx, OrderRequest{Symbol: "005930", Market: domain.MarketKR, Quantity: 10, Kind: domain.OrderMarket})
	if err != nil {
		t.Fatal(err)
	}
	if !res.ExecutedPrice.Equal(d("77000")) {
		t.Errorf("sell must fill at current price, got %s", res.ExecutedPrice)
	}

	bal, _ := s.Balance(ctx)
	if !bal.Cash.Equal(d("1070000")) {
		t.Errorf("expected cash 1070000, got %s", bal.Cash)
	}
	positions, _ := s.Positions(ctx)
	if len(positions) != 0 {
		t.Errorf("expected no positions after full sell, got %d", len(positions))
	}
}

func TestSimBroker_SellWithoutHoldingsRejected(t *testing.T) {
	ctx := context.Background()
	s := NewSimBroker(d("1000000"))
	s.UpdatePrice("005930", d("70000"))

	_, err := s.Sell(ctx, OrderRequest{Symbol: "005930", Market: domain.MarketKR, Quantity: 1, Kind: domain.OrderMarket})
	if !domain.IsRejected(err) {
		t.Fatalf("expected RejectedOrderError, got %v", err)
	}
}

func TestSimBroker_NoPriceRejected(t *testing.T) {
	ctx := context.Background()
	s := NewSimBroker(d("1000000"))

	_, err := s.Buy(ctx, OrderRequest{Symbol: "005930", Market: domain.MarketKR, Quantity: 1, Kind: domain.OrderMarket})
	if !domain.IsRejected(err) {
		t.Fatalf("expected RejectedOrderError, got %v", err)
	}
}

func TestSimBroker_LimitFillsAtLimitPrice(t *testing.T) {
	ctx := context.Background()
	s := NewSimBroker(d("1000000"))
	s.UpdatePrice("005930", d("70000"))

	res, err := s.Buy(ctx, OrderRequest{
		Symbol: "005930", Market: domain.MarketKR, Quantity: 1,
		Price: d("69500"), Kind: domain.OrderLimit,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.ExecutedPrice.Equal(d("69500")) {
		t.Errorf("limit order must fill at limit, got %s", res.ExecutedPrice)
	}
}

func TestSimBroker_WeightedAverageAcrossBuys(t *testing.T) {
	ctx := context.Background()
	s := NewSimBroker(d("10000000"))
	s.UpdatePrice("005930", d("70000"))
	s.Buy(ctx, OrderRequest{Symbol: "005930", Market: domain.MarketKR, Quantity: 10, Kind: domain.OrderMarket})

	s.UpdatePrice("005930", d("80000"))
	s.Buy(ctx, OrderRequest{Symbol: "005930", Market: domain.MarketKR, Quantity: 10, Kind: domain.OrderMarket})

	positions, _ := s.Positions(ctx)
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if !positions[0].AvgPrice.Equal(d("75000")) {
		t.Errorf("expected avg 75000, got %s", positions[0].AvgPrice)
	}
	if positions[0].Quantity != 20 {
		t.Errorf("expected quantity 20, got %d", positions[0].Quantity)
	}
}
