package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/broker"
	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/infra"
)

const (
	productCode = "01" // cash equity account product
	tokenLeeway = 5 * time.Minute
	callTimeout = 10 * time.Second
)

// TR IDs per environment. The virtual (paper) server uses a V prefix.
var trIDs = map[bool]map[string]string{
	false: {
		"buy":     "TTTC0802U",
		"sell":    "TTTC0801U",
		"balance": "TTTC8434R",
		"buy_us":  "TTTT1002U",
		"sell_us": "TTTT1006U",
	},
	true: {
		"buy":     "VTTC0802U",
		"sell":    "VTTC0801U",
		"balance": "VTTC8434R",
		"buy_us":  "VTTT1002U",
		"sell_us": "VTTT1006U",
	},
}

// Client is the live KIS gateway. One instance per process; the access token
// and rate limiter are shared across all calls.
type Client struct {
	baseURL   string
	appKey    string
	appSecret string
	accountNo string // 8-digit CANO
	virtual   bool

	httpClient *http.Client
	limiter    *infra.RateLimiter

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Config carries the live gateway credentials.
type Config struct {
	BaseURL   string
	AppKey    string
	AppSecret string
	AccountNo string
	Virtual   bool
}

// NewClient creates a KIS REST client. Connect must be called before trading.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		appKey:     cfg.AppKey,
		appSecret:  cfg.AppSecret,
		accountNo:  cfg.AccountNo,
		virtual:    cfg.Virtual,
		httpClient: &http.Client{Timeout: callTimeout},
		limiter:    infra.KISLimiter(cfg.Virtual),
	}
}

// Connect issues the OAuth access token.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.refreshToken(ctx); err != nil {
		return fmt.Errorf("kis connect: %w", err)
	}
	slog.Info("✅ KIS session established", slog.Bool("virtual", c.virtual))
	return nil
}

// Close drops the cached token. KIS sessions expire server-side; there is no
// revoke call worth making on shutdown.
func (c *Client) Close() error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	return nil
}

func (c *Client) refreshToken(ctx context.Context) error {
	body, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		AppKey:    c.appKey,
		AppSecret: c.appSecret,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientGatewayError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientGatewayError{Op: "token", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		if transientStatus(resp.StatusCode) {
			return &domain.TransientGatewayError{Op: "token", Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return fmt.Errorf("token request failed: status %d: %s", resp.StatusCode, raw)
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return err
	}
	if tok.AccessToken == "" {
		return errors.New("token response missing access_token")
	}

	c.tokenMu.Lock()
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.tokenMu.Unlock()
	return nil
}

// ensureToken refreshes the access token when it is near expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	token := c.accessToken
	fresh := token != "" && time.Until(c.tokenExpiry) > tokenLeeway
	c.tokenMu.Unlock()

	if fresh {
		return token, nil
	}
	if err := c.refreshToken(ctx); err != nil {
		return "", err
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.accessToken, nil
}

// ApprovalKey issues the websocket approval key used by the realtime feed.
func (c *Client) ApprovalKey(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"secretkey":  c.appSecret,
	})
	if err != nil {
		return "", err
	}

	var out approvalResponse
	if err := c.postJSON(ctx, "/oauth2/Approval", body, &out); err != nil {
		return "", err
	}
	if out.ApprovalKey == "" {
		return "", errors.New("approval response missing key")
	}
	return out.ApprovalKey, nil
}

// hashkey signs an order body. KIS requires the hash header on order POSTs.
func (c *Client) hashkey(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uapi/hashkey", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.TransientGatewayError{Op: "hashkey", Err: err}
	}
	defer resp.Body.Close()

	var out hashkeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Hash, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, path, out)
}

// call performs an authenticated API request with the KIS header set.
func (c *Client) call(ctx context.Context, method, path, trID string, query url.Values, body []byte, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	if method == http.MethodPost && body != nil {
		hash, err := c.hashkey(ctx, body)
		if err != nil {
			return err
		}
		req.Header.Set("hashkey", hash)
	}

	c.limiter.Wait()
	return c.send(req, path, out)
}

func (c *Client) send(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientGatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientGatewayError{Op: op, Err: err}
	}
	if transientStatus(resp.StatusCode) {
		return &domain.TransientGatewayError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, raw)
	}
	return json.Unmarshal(raw, out)
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// Balance queries the account summary.
func (c *Client) Balance(ctx context.Context) (domain.AccountSnapshot, error) {
	resp, err := c.fetchBalance(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	if len(resp.Output2) == 0 {
		return domain.AccountSnapshot{}, errors.New("balance response missing output2")
	}
	row := resp.Output2[0]
	return domain.AccountSnapshot{
		Cash:      dec(row.CashBalance),
		Available: dec(row.Orderable),
		TotalEval: dec(row.TotalEval),
	}, nil
}

// Positions queries current holdings. Rows with zero quantity are filtered;
// KIS keeps sold-out symbols in the response for the rest of the day.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	resp, err := c.fetchBalance(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(resp.Output1))
	for _, row := range resp.Output1 {
		pos := row.toDomain(domain.MarketKR)
		if pos.Quantity > 0 {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (c *Client) fetchBalance(ctx context.Context) (*balanceResponse, error) {
	q := url.Values{}
	q.Set("CANO", c.accountNo)
	q.Set("ACNT_PRDT_CD", productCode)
	q.Set("AFHR_FLPR_YN", "N")
	q.Set("OFL_YN", "")
	q.Set("INQR_DVSN", "02")
	q.Set("UNPR_DVSN", "01")
	q.Set("FUND_STTL_ICLD_YN", "N")
	q.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	q.Set("PRCS_DVSN", "00")
	q.Set("CTX_AREA_FK100", "")
	q.Set("CTX_AREA_NK100", "")

	var resp balanceResponse
	err := c.call(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance",
		trIDs[c.virtual]["balance"], q, nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &domain.RejectedOrderError{Op: "balance", Reason: resp.Msg1}
	}
	return &resp, nil
}

// Price returns the current price for a symbol.
func (c *Client) Price(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	if market == domain.MarketUS {
		return c.overseasPrice(ctx, symbol)
	}

	q := url.Values{}
	q.Set("fid_cond_mrkt_div_code", "J")
	q.Set("fid_input_iscd", symbol)

	var resp priceResponse
	err := c.call(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-price",
		"FHKST01010100", q, nil, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	if !resp.ok() {
		return decimal.Zero, fmt.Errorf("price query failed: %s", resp.Msg1)
	}
	price := dec(resp.Output.Price)
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive price for %s", symbol)
	}
	return price, nil
}

func (c *Client) overseasPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("AUTH", "")
	q.Set("EXCD", "NAS")
	q.Set("SYMB", symbol)

	var resp overseasPriceResponse
	err := c.call(ctx, http.MethodGet, "/uapi/overseas-price/v1/quotations/price",
		"HHDFS00000300", q, nil, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	if !resp.ok() {
		return decimal.Zero, fmt.Errorf("overseas price query failed: %s", resp.Msg1)
	}
	price := dec(resp.Output.Last)
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive price for %s", symbol)
	}
	return price, nil
}

// Buy submits a buy order.
func (c *Client) Buy(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	return c.order(ctx, "buy", req)
}

// Sell submits a sell order.
func (c *Client) Sell(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	return c.order(ctx, "sell", req)
}

func (c *Client) order(ctx context.Context, side string, req broker.OrderRequest) (broker.OrderResult, error) {
	if req.Market == domain.MarketUS {
		return c.overseasOrder(ctx, side, req)
	}

	ordDvsn, unitPrice := "01", "0" // market order
	if req.Kind == domain.OrderLimit {
		ordDvsn = "00"
		unitPrice = req.Price.StringFixed(0)
	}

	body, err := json.Marshal(map[string]string{
		"CANO":         c.accountNo,
		"ACNT_PRDT_CD": productCode,
		"PDNO":         req.Symbol,
		"ORD_DVSN":     ordDvsn,
		"ORD_QTY":      strconv.FormatInt(req.Quantity, 10),
		"ORD_UNPR":     unitPrice,
	})
	if err != nil {
		return broker.OrderResult{}, err
	}

	var resp orderResponse
	err = c.call(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash",
		trIDs[c.virtual][side], nil, body, &resp)
	if err != nil {
		return broker.OrderResult{}, err
	}
	if !resp.ok() {
		return broker.OrderResult{}, &domain.RejectedOrderError{
			Op:     side + " order",
			Reason: fmt.Sprintf("%s (%s)", resp.Msg1, resp.MsgCd),
		}
	}

	// Cash-equity market orders fill immediately during session hours. The
	// submit response carries no fill price, so until the execution notice
	// arrives the last trade price stands in for it.
	fillPrice := req.Price
	if req.Kind == domain.OrderMarket {
		if p, perr := c.Price(ctx, req.Symbol, req.Market); perr == nil {
			fillPrice = p
		}
	}
	if fillPrice.Sign() <= 0 {
		// The order is on the book but its price is unknown. A zero-price
		// fill would poison the ledger's average, so report a desync and let
		// the caller pull broker truth instead.
		return broker.OrderResult{}, &domain.InvalidFillError{
			Symbol: req.Symbol,
			Reason: "fill price unavailable after submit",
		}
	}

	slog.Info("Order accepted",
		slog.String("side", side),
		slog.String("symbol", req.Symbol),
		slog.Int64("qty", req.Quantity),
		slog.String("order_no", resp.Output.OrderNo))

	return broker.OrderResult{
		OrderID:       resp.Output.OrderNo,
		Status:        domain.OrderExecuted,
		ExecutedPrice: fillPrice,
		ExecutedQty:   req.Quantity,
	}, nil
}

// overseasOrder submits US orders through the overseas trading endpoint. KIS
// only takes limit prices there, so market requests are priced at the current
// quote before submission; that quote is also the reported fill price.
func (c *Client) overseasOrder(ctx context.Context, side string, req broker.OrderRequest) (broker.OrderResult, error) {
	price := req.Price
	if req.Kind == domain.OrderMarket || price.Sign() <= 0 {
		p, err := c.Price(ctx, req.Symbol, req.Market)
		if err != nil {
			return broker.OrderResult{}, fmt.Errorf("price %s before overseas order: %w", req.Symbol, err)
		}
		price = p
	}

	body, err := json.Marshal(map[string]string{
		"CANO":            c.accountNo,
		"ACNT_PRDT_CD":    productCode,
		"OVRS_EXCG_CD":    "NASD",
		"PDNO":            req.Symbol,
		"ORD_QTY":         strconv.FormatInt(req.Quantity, 10),
		"OVRS_ORD_UNPR":   price.StringFixed(2),
		"ORD_SVR_DVSN_CD": "0",
		"ORD_DVSN":        "00",
	})
	if err != nil {
		return broker.OrderResult{}, err
	}

	var resp orderResponse
	err = c.call(ctx, http.MethodPost, "/uapi/overseas-stock/v1/trading/order",
		trIDs[c.virtual][side+"_us"], nil, body, &resp)
	if err != nil {
		return broker.OrderResult{}, err
	}
	if !resp.ok() {
		return broker.OrderResult{}, &domain.RejectedOrderError{
			Op:     side + " overseas order",
			Reason: fmt.Sprintf("%s (%s)", resp.Msg1, resp.MsgCd),
		}
	}

	slog.Info("Overseas order accepted",
		slog.String("side", side),
		slog.String("symbol", req.Symbol),
		slog.Int64("qty", req.Quantity),
		slog.String("limit", price.StringFixed(2)),
		slog.String("order_no", resp.Output.OrderNo))

	return broker.OrderResult{
		OrderID:       resp.Output.OrderNo,
		Status:        domain.OrderExecuted,
		ExecutedPrice: price,
		ExecutedQty:   req.Quantity,
	}, nil
}
