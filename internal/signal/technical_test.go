package signal

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

func observeAll(t *TechnicalSource, symbol string, prices []float64) {
	for _, p := range prices {
		t.Observe(symbol, decimal.NewFromFloat(p))
	}
}

func TestGetSignal_InsufficientData(t *testing.T) {
	src := NewTechnicalSource()
	observeAll(src, "005930", []float64{70000, 70100, 70200})

	sig, err := src.GetSignal(context.Background(), "005930", domain.MarketKR)
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil {
		t.Errorf("expected nil signal with 3 samples, got %+v", sig)
	}
}

func TestGetSignal_DecliningSeriesIsBuy(t *testing.T) {
	src := NewTechnicalSource()

	// Strictly declining prices drive RSI to the floor: deep oversold.
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 80000 - float64(i)*500
	}
	observeAll(src, "005930", prices)

	sig, err := src.GetSignal(context.Background(), "005930", domain.MarketKR)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil {
		t.Fatal("expected a signal")
	}
	if sig.Action != domain.ActionBuy {
		t.Errorf("expected BUY on oversold series, got %s", sig.Action)
	}
	if sig.Confidence < 0.6 {
		t.Errorf("expected confidence >= 0.6, got %.2f", sig.Confidence)
	}
	if sig.Strength != domain.StrengthFromConfidence(sig.Confidence) {
		t.Errorf("strength inconsistent with confidence: %s vs %.2f", sig.Strength, sig.Confidence)
	}
	if sig.Symbol != "005930" || sig.Market != domain.MarketKR {
		t.Errorf("signal identity wrong: %+v", sig)
	}
}

func TestGetSignal_RisingSeriesIsSell(t *testing.T) {
	src := NewTechnicalSource()

	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 70000 + float64(i)*500
	}
	observeAll(src, "005930", prices)

	sig, err := src.GetSignal(context.Background(), "005930", domain.MarketKR)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil {
		t.Fatal("expected a signal")
	}
	if sig.Action != domain.ActionSell {
		t.Errorf("expected SELL on overbought series, got %s", sig.Action)
	}
}

func TestObserve_WindowBounded(t *testing.T) {
	src := NewTechnicalSource()
	for i := 0; i < maxSamples*2; i++ {
		src.Observe("005930", decimal.NewFromInt(70000))
	}
	if got := src.Samples("005930"); got != maxSamples {
		t.Errorf("expected window capped at %d, got %d", maxSamples, got)
	}
}

func TestSurgeSignal_FlatSeriesNil(t *testing.T) {
	src := NewTechnicalSource()
	observeAll(src, "005930", []float64{70000, 70000, 70000, 70000, 70000, 70000, 70000, 70000})

	if sig := src.SurgeSignal("005930", domain.MarketKR); sig != nil {
		t.Errorf("flat series must not surge, got %+v", sig)
	}
}

func TestSurgeSignal_InsufficientSamplesNil(t *testing.T) {
	src := NewTechnicalSource()
	observeAll(src, "005930", []float64{70000, 72500})

	if sig := src.SurgeSignal("005930", domain.MarketKR); sig != nil {
		t.Errorf("two samples cannot establish a surge, got %+v", sig)
	}
}

func TestSurgeSignal_PriceJumpIsBuy(t *testing.T) {
	src := NewTechnicalSource()
	// Flat at 70000, then a +3.6% move inside the window.
	observeAll(src, "005930", []float64{70000, 70000, 70000, 70000, 70000, 70000, 70000, 70000, 70000, 70000, 72500})

	sig := src.SurgeSignal("005930", domain.MarketKR)
	if sig == nil {
		t.Fatal("expected a surge signal")
	}
	if sig.Action != domain.ActionBuy {
		t.Errorf("expected BUY, got %s", sig.Action)
	}
	if sig.Confidence < 0.55 || sig.Confidence > 0.95 {
		t.Errorf("confidence out of range: %.2f", sig.Confidence)
	}
	if sig.Strength != domain.StrengthFromConfidence(sig.Confidence) {
		t.Errorf("strength inconsistent with confidence: %s vs %.2f", sig.Strength, sig.Confidence)
	}
}

func TestSurgeSignal_VolumeMustConfirmWhenTracked(t *testing.T) {
	flat := decimal.NewFromInt(100)

	src := NewTechnicalSource()
	for i := 0; i < 10; i++ {
		src.ObserveTrade("005930", decimal.NewFromInt(70000), flat)
	}
	// Price surges on ordinary volume: no signal.
	src.ObserveTrade("005930", decimal.NewFromInt(72500), flat)
	if sig := src.SurgeSignal("005930", domain.MarketKR); sig != nil {
		t.Errorf("surge without volume confirmation must be dropped, got %+v", sig)
	}

	src = NewTechnicalSource()
	for i := 0; i < 10; i++ {
		src.ObserveTrade("005930", decimal.NewFromInt(70000), flat)
	}
	// Same move on triple the average volume: confirmed.
	src.ObserveTrade("005930", decimal.NewFromInt(72500), decimal.NewFromInt(300))
	sig := src.SurgeSignal("005930", domain.MarketKR)
	if sig == nil {
		t.Fatal("expected a volume-confirmed surge signal")
	}
	if sig.Action != domain.ActionBuy {
		t.Errorf("expected BUY, got %s", sig.Action)
	}
}

func TestObserve_IgnoresNonPositive(t *testing.T) {
	src := NewTechnicalSource()
	src.Observe("005930", decimal.Zero)
	src.Observe("005930", decimal.NewFromInt(-1))
	if got := src.Samples("005930"); got != 0 {
		t.Errorf("non-positive prices must be dropped, got %d samples", got)
	}
}
