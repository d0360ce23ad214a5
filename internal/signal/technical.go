package signal

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

const (
	rsiPeriod     = 14
	smaFastPeriod = 5
	smaSlowPeriod = 20
	maxSamples    = 120

	rsiOversold   = 30.0
	rsiOverbought = 70.0

	// A fast/slow gap below this fraction of price is noise, not a cross.
	crossDeadband = 0.001

	// Surge detection over the most recent samples: price must move more than
	// surgePricePct across the window, and where volume is tracked the last
	// sample must run at surgeVolumeRatio times the window average.
	surgeWindow      = 6
	surgePricePct    = 3.0
	surgeVolumeRatio = 2.0
)

// TechnicalSource derives signals from observed prices using RSI and a
// fast/slow SMA cross. Prices arrive via Observe from the realtime feed or
// the periodic poll; GetSignal only reads the accumulated series.
type TechnicalSource struct {
	mu      sync.Mutex
	series  map[string][]float64
	volumes map[string][]float64
}

// NewTechnicalSource creates an empty analyzer.
func NewTechnicalSource() *TechnicalSource {
	return &TechnicalSource{
		series:  make(map[string][]float64),
		volumes: make(map[string][]float64),
	}
}

// Observe appends a price sample for symbol, keeping a bounded window.
func (t *TechnicalSource) Observe(symbol string, price decimal.Decimal) {
	if price.Sign() <= 0 {
		return
	}
	f, _ := price.Float64()

	t.mu.Lock()
	defer t.mu.Unlock()
	s := append(t.series[symbol], f)
	if len(s) > maxSamples {
		s = s[len(s)-maxSamples:]
	}
	t.series[symbol] = s
}

// ObserveTrade appends a price sample together with its traded volume.
// Websocket ticks carry volume; polled quotes do not and use Observe.
func (t *TechnicalSource) ObserveTrade(symbol string, price, volume decimal.Decimal) {
	t.Observe(symbol, price)
	if volume.Sign() <= 0 {
		return
	}
	v, _ := volume.Float64()

	t.mu.Lock()
	defer t.mu.Unlock()
	vs := append(t.volumes[symbol], v)
	if len(vs) > maxSamples {
		vs = vs[len(vs)-maxSamples:]
	}
	t.volumes[symbol] = vs
}

// Samples returns how many prices have been observed for symbol.
func (t *TechnicalSource) Samples(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.series[symbol])
}

// GetSignal evaluates the indicators for symbol. Returns nil until enough
// samples have accumulated.
func (t *TechnicalSource) GetSignal(ctx context.Context, symbol string, market domain.Market) (*domain.Signal, error) {
	t.mu.Lock()
	closes := append([]float64(nil), t.series[symbol]...)
	t.mu.Unlock()

	need := smaSlowPeriod + 1
	if rsiPeriod+1 > need {
		need = rsiPeriod + 1
	}
	if len(closes) < need {
		return nil, nil
	}

	rsi := talib.Rsi(closes, rsiPeriod)
	fast := talib.Sma(closes, smaFastPeriod)
	slow := talib.Sma(closes, smaSlowPeriod)

	last := len(closes) - 1
	curRSI := rsi[last]

	action := domain.ActionHold
	confidence := 0.3
	reasonParts := []string{}

	switch {
	case curRSI <= rsiOversold:
		action = domain.ActionBuy
		// Deeper oversold, higher conviction: 30 -> 0.6, 0 -> 0.9.
		confidence = 0.6 + 0.3*(rsiOversold-curRSI)/rsiOversold
		reasonParts = append(reasonParts, fmt.Sprintf("RSI oversold %.1f", curRSI))
	case curRSI >= rsiOverbought:
		action = domain.ActionSell
		confidence = 0.6 + 0.3*(curRSI-rsiOverbought)/(100-rsiOverbought)
		reasonParts = append(reasonParts, fmt.Sprintf("RSI overbought %.1f", curRSI))
	}

	if cross := t.detectCross(fast, slow, closes[last], last); cross != domain.ActionHold {
		if action == cross {
			// Both indicators agree.
			confidence = math.Min(confidence+0.15, 0.95)
		} else if action == domain.ActionHold {
			action = cross
			confidence = 0.55
		}
		reasonParts = append(reasonParts, fmt.Sprintf("SMA%d/%d cross", smaFastPeriod, smaSlowPeriod))
	}

	if action == domain.ActionHold {
		return nil, nil
	}

	now := time.Now()
	sig := &domain.Signal{
		ID:         fmt.Sprintf("tech-%s-%d", symbol, now.UnixNano()),
		Symbol:     symbol,
		Market:     market,
		Action:     action,
		Strength:   domain.StrengthFromConfidence(confidence),
		Confidence: confidence,
		Source:     "technical:" + strings.Join(reasonParts, "+"),
		At:         now,
	}
	return sig, nil
}

// SurgeSignal reports a fast upward move for the realtime scan: the last
// price is up more than surgePricePct against the start of the recent window.
// When volume samples exist the last one must also run at surgeVolumeRatio
// times the window's average, otherwise price alone decides.
func (t *TechnicalSource) SurgeSignal(symbol string, market domain.Market) *domain.Signal {
	t.mu.Lock()
	closes := append([]float64(nil), t.series[symbol]...)
	vols := append([]float64(nil), t.volumes[symbol]...)
	t.mu.Unlock()

	if len(closes) < surgeWindow+1 {
		return nil
	}
	base := closes[len(closes)-1-surgeWindow]
	last := closes[len(closes)-1]
	if base <= 0 {
		return nil
	}
	changePct := (last/base - 1) * 100
	if changePct <= surgePricePct {
		return nil
	}

	volumeConfirmed := false
	if len(vols) >= surgeWindow+1 {
		recent := vols[len(vols)-1]
		prior := vols[len(vols)-1-surgeWindow : len(vols)-1]
		sum := 0.0
		for _, v := range prior {
			sum += v
		}
		avg := sum / float64(len(prior))
		if avg <= 0 || recent < avg*surgeVolumeRatio {
			return nil
		}
		volumeConfirmed = true
	}

	confidence := math.Min(0.55+0.05*(changePct-surgePricePct), 0.85)
	if volumeConfirmed {
		confidence = math.Min(confidence+0.1, 0.95)
	}

	now := time.Now()
	return &domain.Signal{
		ID:         fmt.Sprintf("surge-%s-%d", symbol, now.UnixNano()),
		Symbol:     symbol,
		Market:     market,
		Action:     domain.ActionBuy,
		Strength:   domain.StrengthFromConfidence(confidence),
		Confidence: confidence,
		Source:     fmt.Sprintf("surge:+%.1f%%", changePct),
		At:         now,
	}
}

// detectCross reports a golden (BUY) or dead (SELL) cross between the fast
// and slow SMA on the latest bar. Tiny gaps inside the deadband are ignored.
func (t *TechnicalSource) detectCross(fast, slow []float64, price float64, last int) domain.Action {
	if last < 1 || slow[last] == 0 || slow[last-1] == 0 {
		return domain.ActionHold
	}
	deadband := price * crossDeadband

	prevDiff := fast[last-1] - slow[last-1]
	curDiff := fast[last] - slow[last]

	if prevDiff <= 0 && curDiff > deadband {
		return domain.ActionBuy
	}
	if prevDiff >= 0 && curDiff < -deadband {
		return domain.ActionSell
	}
	return domain.ActionHold
}
