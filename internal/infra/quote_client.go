package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

// QuoteClient fetches delayed quotes from the Yahoo Finance chart API. It is
// the market-data fallback for simulated sessions without broker credentials:
// execution is simulated but the prices stay real.
type QuoteClient struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
}

// NewQuoteClient creates a Yahoo-backed quote client.
func NewQuoteClient() *QuoteClient {
	return &QuoteClient{
		baseURL:    yahooChartURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      DefaultRetryPolicy(),
	}
}

// Price returns the latest quote for symbol. Korean tickers are looked up
// under their .KS listing.
func (c *QuoteClient) Price(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := c.retry.Do(ctx, "quote "+symbol, func() error {
		p, ferr := c.fetch(ctx, yahooSymbol(symbol, market))
		if ferr != nil {
			return ferr
		}
		price = p
		return nil
	})
	return price, err
}

func yahooSymbol(symbol string, market domain.Market) string {
	if market == domain.MarketKR {
		return symbol + ".KS"
	}
	return symbol
}

func (c *QuoteClient) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+url.PathEscape(symbol), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, &domain.TransientGatewayError{Op: "quote", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, &domain.TransientGatewayError{Op: "quote", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("quote %s: unexpected status code %d", symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, &domain.TransientGatewayError{Op: "quote", Err: err}
	}

	var data yahooChartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return decimal.Zero, err
	}
	if data.Chart.Error != nil {
		return decimal.Zero, fmt.Errorf("yahoo API error: %s - %s", data.Chart.Error.Code, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 {
		return decimal.Zero, fmt.Errorf("empty quote response for %s", symbol)
	}

	price := decimal.NewFromFloat(data.Chart.Result[0].Meta.RegularMarketPrice)
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive quote for %s: %s", symbol, price)
	}
	return price, nil
}
