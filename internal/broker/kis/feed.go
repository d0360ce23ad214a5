package kis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/infra"
)

const (
	trRealtimePrice = "H0STCNT0"
	readTimeout     = 60 * time.Second
	pingInterval    = 30 * time.Second
)

// Tick is one realtime price update. Volume is the traded quantity of the
// tick, zero when the frame omits it.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	Volume decimal.Decimal
	At     time.Time
}

// keyIssuer is the slice of the REST client the feed needs.
type keyIssuer interface {
	ApprovalKey(ctx context.Context) (string, error)
}

// PriceFeed streams realtime trade prices over the KIS websocket. It owns its
// reconnect loop: on any read failure the connection is torn down and
// re-established with exponential backoff, and all symbols are re-subscribed.
type PriceFeed struct {
	url     string
	issuer  keyIssuer
	symbols []string
	out     chan Tick

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPriceFeed creates a feed for the given symbols. Ticks are delivered on
// the channel returned by C; slow consumers drop ticks rather than block the
// read loop.
func NewPriceFeed(wsURL string, issuer keyIssuer, symbols []string) *PriceFeed {
	return &PriceFeed{
		url:     wsURL,
		issuer:  issuer,
		symbols: symbols,
		out:     make(chan Tick, 256),
	}
}

// C returns the tick channel. Closed when the feed stops.
func (f *PriceFeed) C() <-chan Tick { return f.out }

// Start launches the connection loop.
func (f *PriceFeed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.run(ctx)
}

// Stop tears down the connection and waits for the loop to exit.
func (f *PriceFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
		f.wg.Wait()
	}
}

func (f *PriceFeed) run(ctx context.Context) {
	defer f.wg.Done()
	defer close(f.out)

	retry := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if err := f.session(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := infra.CalculateBackoff(retry)
			retry++
			slog.Warn("Price feed disconnected, reconnecting",
				slog.Any("error", err),
				slog.Duration("backoff", delay),
				slog.Int("attempt", retry))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		retry = 0
	}
}

// session runs one websocket connection until it fails or the context ends.
func (f *PriceFeed) session(ctx context.Context) error {
	key, err := f.issuer.ApprovalKey(ctx)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, sym := range f.symbols {
		if err := f.subscribe(conn, key, sym); err != nil {
			return err
		}
	}
	slog.Info("📡 Price feed connected", slog.Int("symbols", len(f.symbols)))

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pinger.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		f.handle(msg)
	}
}

func (f *PriceFeed) subscribe(conn *websocket.Conn, approvalKey, symbol string) error {
	req := map[string]any{
		"header": map[string]string{
			"approval_key": approvalKey,
			"custtype":     "P",
			"tr_type":      "1",
			"content-type": "utf-8",
		},
		"body": map[string]any{
			"input": map[string]string{
				"tr_id":  trRealtimePrice,
				"tr_key": symbol,
			},
		},
	}
	return conn.WriteJSON(req)
}

// handle parses one websocket frame. Data frames are pipe-delimited with a
// caret-separated payload; everything else (subscribe acks, PINGPONG) is JSON
// and ignored.
func (f *PriceFeed) handle(msg []byte) {
	if len(msg) == 0 || (msg[0] != '0' && msg[0] != '1') {
		var ctl struct {
			Header struct {
				TrID string `json:"tr_id"`
			} `json:"header"`
		}
		if err := json.Unmarshal(msg, &ctl); err == nil && ctl.Header.TrID == "PINGPONG" {
			return
		}
		return
	}

	parts := strings.Split(string(msg), "|")
	if len(parts) < 4 || parts[1] != trRealtimePrice {
		return
	}
	fields := strings.Split(parts[3], "^")
	if len(fields) < 3 {
		return
	}

	price, err := decimal.NewFromString(fields[2])
	if err != nil || price.Sign() <= 0 {
		return
	}

	tick := Tick{Symbol: fields[0], Price: price, At: time.Now()}
	if len(fields) > 12 {
		if v, verr := decimal.NewFromString(fields[12]); verr == nil && v.Sign() > 0 {
			tick.Volume = v
		}
	}
	select {
	case f.out <- tick:
	default:
		// Consumer is behind; the next tick supersedes this one anyway.
	}
}
