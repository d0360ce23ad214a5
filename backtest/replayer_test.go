package backtest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/risk"
)

func eventLine(t *testing.T, sig domain.Signal, price int64) string {
	t.Helper()
	b, err := json.Marshal(Event{Signal: sig, Price: decimal.NewFromInt(price)})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func replaySignal(id string, action domain.Action, confidence float64, at time.Time) domain.Signal {
	return domain.Signal{
		ID:         id,
		Symbol:     "005930",
		Market:     domain.MarketKR,
		Action:     action,
		Strength:   domain.StrengthFromConfidence(confidence),
		Confidence: confidence,
		Source:     "replay",
		At:         at,
	}
}

func testOptions() Options {
	return Options{
		InitialCash: decimal.NewFromInt(10_000_000),
		Limits: risk.Limits{
			MaxPositions:   10,
			MaxPositionPct: 20,
			MaxDailyTrades: 4,
		},
		MinConfidence: 0.5,
	}
}

func TestReplay_BuyThenSellRealizesProfit(t *testing.T) {
	// Monday.
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	stream := strings.Join([]string{
		eventLine(t, replaySignal("r1", domain.ActionBuy, 0.9, base), 100_000),
		eventLine(t, replaySignal("r2", domain.ActionSell, 0.9, base.Add(time.Hour)), 110_000),
	}, "\n")

	res, err := Replay(context.Background(), strings.NewReader(stream), testOptions())
	if err != nil {
		t.Fatal(err)
	}

	if res.Events != 2 || res.Executed != 2 {
		t.Fatalf("expected 2 events 2 executed, got %d/%d", res.Events, res.Executed)
	}
	if len(res.Positions) != 0 {
		t.Errorf("expected flat book, got %+v", res.Positions)
	}
	// 20% of 10M buys 20 shares at 100k; selling at 110k realizes 200k.
	if !res.Stats.RealizedPnL.Equal(decimal.NewFromInt(200_000)) {
		t.Errorf("realized PnL: got %s, want 200000", res.Stats.RealizedPnL)
	}
	if !res.FinalCash.Equal(decimal.NewFromInt(10_200_000)) {
		t.Errorf("final cash: got %s, want 10200000", res.FinalCash)
	}
}

func TestReplay_LowConfidenceIgnored(t *testing.T) {
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	stream := eventLine(t, replaySignal("r1", domain.ActionBuy, 0.3, base), 100_000)

	res, err := Replay(context.Background(), strings.NewReader(stream), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Executed != 0 {
		t.Errorf("low-confidence signal executed: %d", res.Executed)
	}
	if !res.FinalCash.Equal(decimal.NewFromInt(10_000_000)) {
		t.Errorf("cash moved without a trade: %s", res.FinalCash)
	}
}

func TestReplay_DailyCapHonoredAcrossEvents(t *testing.T) {
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	opts := testOptions()
	opts.Limits.MaxDailyTrades = 1

	stream := strings.Join([]string{
		eventLine(t, replaySignal("r1", domain.ActionBuy, 0.9, base), 100_000),
		// Second trade the same day must be blocked by the daily cap.
		eventLine(t, replaySignal("r2", domain.ActionSell, 0.9, base.Add(time.Hour)), 110_000),
		// Next day it is allowed again.
		eventLine(t, replaySignal("r3", domain.ActionSell, 0.9, base.Add(24*time.Hour)), 120_000),
	}, "\n")

	res, err := Replay(context.Background(), strings.NewReader(stream), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Executed != 2 {
		t.Fatalf("expected buy + next-day sell, got %d executions", res.Executed)
	}
	// Sold at 120k the next day: 20 * 20k realized.
	if !res.Stats.RealizedPnL.Equal(decimal.NewFromInt(400_000)) {
		t.Errorf("realized PnL: got %s, want 400000", res.Stats.RealizedPnL)
	}
}

func TestReplay_MalformedLineFails(t *testing.T) {
	_, err := Replay(context.Background(), strings.NewReader("{broken"), testOptions())
	if err == nil {
		t.Fatal("expected error on malformed event")
	}
}
