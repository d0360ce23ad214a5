package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

// yahooChartResponse is the Yahoo Finance chart API response.
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// ExchangeRateClient polls the USD/KRW rate. US buys are sized from the KRW
// cash balance, so the router needs a reasonably fresh rate.
type ExchangeRateClient struct {
	rate         decimal.Decimal
	mu           sync.RWMutex
	pollInterval time.Duration
	apiURL       string
	httpClient   *http.Client
	retry        RetryPolicy
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewExchangeRateClient creates a poller. Empty url and zero interval fall
// back to Yahoo Finance KRW=X every 60s.
func NewExchangeRateClient(apiURL string, pollIntervalSec int) *ExchangeRateClient {
	c := &ExchangeRateClient{
		rate:         decimal.NewFromInt(1400), // sane placeholder until first fetch
		pollInterval: 60 * time.Second,
		apiURL:       "https://query1.finance.yahoo.com/v8/finance/chart/KRW=X",
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		retry:        DefaultRetryPolicy(),
	}
	if apiURL != "" {
		c.apiURL = apiURL
	}
	if pollIntervalSec > 0 {
		c.pollInterval = time.Duration(pollIntervalSec) * time.Second
	}
	return c
}

// Start fetches once immediately, then polls in the background.
func (c *ExchangeRateClient) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.fetchRate(ctx); err != nil {
		slog.Warn("Initial exchange rate fetch failed", slog.Any("error", err))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Exchange rate polling stopped")
				return
			case <-ticker.C:
				if err := c.fetchRate(ctx); err != nil {
					slog.Warn("Exchange rate fetch failed", slog.Any("error", err))
				}
			}
		}
	}()
}

func (c *ExchangeRateClient) fetchRate(ctx context.Context) error {
	return c.retry.Do(ctx, "exchange_rate", func() error {
		return c.doFetch(ctx)
	})
}

func (c *ExchangeRateClient) doFetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientGatewayError{Op: "exchange_rate", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &domain.TransientGatewayError{Op: "exchange_rate", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientGatewayError{Op: "exchange_rate", Err: err}
	}

	var data yahooChartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}
	if data.Chart.Error != nil {
		return fmt.Errorf("yahoo API error: %s - %s", data.Chart.Error.Code, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 {
		return fmt.Errorf("empty response from exchange rate API")
	}

	newRate := decimal.NewFromFloat(data.Chart.Result[0].Meta.RegularMarketPrice)
	if newRate.Sign() <= 0 {
		return fmt.Errorf("non-positive exchange rate: %s", newRate)
	}

	c.mu.Lock()
	oldRate := c.rate
	c.rate = newRate
	c.mu.Unlock()

	if !oldRate.Equal(newRate) {
		slog.Info("Exchange rate updated",
			slog.String("rate", newRate.String()),
			slog.String("old_rate", oldRate.String()))
	}
	return nil
}

// Stop halts polling and waits for the goroutine to exit.
func (c *ExchangeRateClient) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

// Rate returns the last known USD/KRW rate.
func (c *ExchangeRateClient) Rate() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}
