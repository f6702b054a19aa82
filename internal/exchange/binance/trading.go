package binance

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/mselser95/triarb/internal/arbitrage"
	"go.uber.org/zap"
)

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// Fill is one executed market order of a cycle.
type Fill struct {
	Symbol   string
	Side     string
	OrderID  int64
	AmountIn float64
	Received float64
}

type cycleTrade struct {
	start  float64
	final  float64
	fills  []Fill
	closed bool
}

// Trader executes triangular cycles as three market orders.
type Trader struct {
	client     *Client
	quoteAsset string

	mu     sync.Mutex
	trades map[string]*cycleTrade
}

// NewTrader creates a trader on client. quoteAsset is the asset GetBalance reports.
func NewTrader(client *Client, quoteAsset string) *Trader {
	return &Trader{
		client:     client,
		quoteAsset: quoteAsset,
		trades:     make(map[string]*cycleTrade),
	}
}

// ExecuteArbitrageTrade walks the cycle with market orders, feeding each leg's
// proceeds into the next. Legs along a pair's direction sell the base; legs
// against it spend the quote to buy the base.
func (t *Trader) ExecuteArbitrageTrade(ctx context.Context, hops []arbitrage.Hop, size float64) (string, error) {
	amount := size
	fills := make([]Fill, 0, len(hops))

	for i, h := range hops {
		fill, err := t.placeLeg(ctx, h, amount)
		if err != nil {
			if i > 0 {
				t.client.logger.Error("binance-cycle-incomplete",
					zap.Int("failed-leg", i),
					zap.String("symbol", h.Symbol),
					zap.String("stranded-asset", h.From),
					zap.Float64("stranded-amount", amount),
					zap.Error(err))
			}
			return "", fmt.Errorf("leg %d %s: %w", i+1, h.Symbol, err)
		}
		fills = append(fills, fill)
		amount = fill.Received
	}

	id := uuid.New().String()
	t.mu.Lock()
	t.trades[id] = &cycleTrade{start: size, final: amount, fills: fills}
	t.mu.Unlock()

	t.client.logger.Info("binance-cycle-executed",
		zap.String("trade-id", id),
		zap.Float64("start-amount", size),
		zap.Float64("final-amount", amount))

	return id, nil
}

func (t *Trader) placeLeg(ctx context.Context, h arbitrage.Hop, amount float64) (Fill, error) {
	params := url.Values{}
	params.Set("symbol", h.Symbol)
	params.Set("type", "MARKET")
	params.Set("newOrderRespType", "RESULT")

	side := "SELL"
	if h.Inverted {
		side = "BUY"
		params.Set("quoteOrderQty", formatQty(amount))
	} else {
		params.Set("quantity", formatQty(amount))
	}
	params.Set("side", side)

	var resp orderResponse
	if err := t.client.signed(ctx, "POST", "/api/v3/order", params, &resp); err != nil {
		return Fill{}, err
	}

	executed, err := strconv.ParseFloat(resp.ExecutedQty, 64)
	if err != nil {
		return Fill{}, fmt.Errorf("parse executed qty: %w", err)
	}
	quote, err := strconv.ParseFloat(resp.CummulativeQuoteQty, 64)
	if err != nil {
		return Fill{}, fmt.Errorf("parse quote qty: %w", err)
	}

	received := quote
	if h.Inverted {
		received = executed
	}
	if received <= 0 {
		return Fill{}, fmt.Errorf("order %d %s filled nothing", resp.OrderID, resp.Status)
	}

	OrdersTotal.WithLabelValues(side).Inc()
	return Fill{Symbol: h.Symbol, Side: side, OrderID: resp.OrderID, AmountIn: amount, Received: received}, nil
}

// GetCurrentPrices returns the last price of each symbol that has one.
func (t *Trader) GetCurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	tickers, err := t.client.Tickers(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if tk, ok := tickers[s]; ok && tk.Last > 0 {
			out[s] = tk.Last
		}
	}
	return out, nil
}

// CloseArbitrageTrade settles a cycle and returns its profit in the starting
// asset. A completed cycle already holds the starting asset again, so no
// orders are placed.
func (t *Trader) CloseArbitrageTrade(_ context.Context, tradeID string) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trade, ok := t.trades[tradeID]
	if !ok {
		return 0, fmt.Errorf("unknown trade %s", tradeID)
	}
	if trade.closed {
		return 0, fmt.Errorf("trade %s already closed", tradeID)
	}
	trade.closed = true
	delete(t.trades, tradeID)

	return trade.final - trade.start, nil
}

// Fills returns the executed orders of an open trade.
func (t *Trader) Fills(tradeID string) ([]Fill, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trade, ok := t.trades[tradeID]
	if !ok {
		return nil, false
	}
	return append([]Fill(nil), trade.fills...), true
}

// GetBalance returns the free balance of the quote asset.
func (t *Trader) GetBalance(ctx context.Context) (float64, error) {
	return t.client.Balance(ctx, t.quoteAsset)
}

// Balance returns the free balance of asset.
func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	var acct accountResponse
	if err := c.signed(ctx, "GET", "/api/v3/account", nil, &acct); err != nil {
		return 0, fmt.Errorf("account: %w", err)
	}

	for _, b := range acct.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s balance: %w", asset, err)
		}
		return free, nil
	}
	return 0, nil
}

// formatQty truncates to 8 decimals, the exchange's finest step.
func formatQty(v float64) string {
	return strconv.FormatFloat(math.Floor(v*1e8)/1e8, 'f', -1, 64)
}
