package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mselser95/triarb/internal/market"
	"go.uber.org/zap"
)

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

type ticker24h struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	HighPrice   string `json:"highPrice"`
	LowPrice    string `json:"lowPrice"`
	QuoteVolume string `json:"quoteVolume"`
}

// Ticker is a parsed 24h ticker.
type Ticker struct {
	Last        float64
	High        float64
	Low         float64
	QuoteVolume float64
}

// Volatility is the 24h range as a percent of the last price.
func (t Ticker) Volatility() float64 {
	if t.Last <= 0 {
		return 0
	}
	return (t.High - t.Low) / t.Last * 100
}

type tickerMemo struct {
	ttl time.Duration

	mu      sync.Mutex
	fetched time.Time
	tickers map[string]Ticker
}

// Exchange implements market.Source.
func (c *Client) Exchange() string { return Name }

// Pairs implements market.Source. Only symbols in TRADING status are returned.
func (c *Client) Pairs(ctx context.Context) ([]market.Pair, error) {
	var info exchangeInfo
	if err := c.get(ctx, "/api/v3/exchangeInfo", nil, &info); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	pairs := make([]market.Pair, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		pairs = append(pairs, market.Pair{Symbol: s.Symbol, Base: s.BaseAsset, Quote: s.QuoteAsset})
	}

	c.logger.Debug("binance-pairs-loaded",
		zap.Int("symbols", len(info.Symbols)),
		zap.Int("trading", len(pairs)))
	return pairs, nil
}

// Prices implements market.Source.
func (c *Client) Prices(ctx context.Context) (map[string]market.Quote, error) {
	tickers, err := c.Tickers(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]market.Quote, len(tickers))
	for sym, t := range tickers {
		if t.Last <= 0 {
			continue
		}
		out[sym] = market.Quote{Price: t.Last, Volatility: t.Volatility()}
	}
	return out, nil
}

// Volumes implements market.Source. Volumes are 24h quote-asset volumes.
func (c *Client) Volumes(ctx context.Context) (map[string]float64, error) {
	tickers, err := c.Tickers(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(tickers))
	for sym, t := range tickers {
		out[sym] = t.QuoteVolume
	}
	return out, nil
}

// Tickers returns every symbol's 24h ticker. Tickers that fail to parse are skipped.
func (c *Client) Tickers(ctx context.Context) (map[string]Ticker, error) {
	c.tickers.mu.Lock()
	defer c.tickers.mu.Unlock()

	if c.tickers.tickers != nil && c.now().Sub(c.tickers.fetched) < c.tickers.ttl {
		return c.tickers.tickers, nil
	}

	var raw []ticker24h
	if err := c.get(ctx, "/api/v3/ticker/24hr", nil, &raw); err != nil {
		return nil, fmt.Errorf("24h tickers: %w", err)
	}

	out := make(map[string]Ticker, len(raw))
	skipped := 0
	for _, r := range raw {
		t, err := r.parse()
		if err != nil {
			skipped++
			continue
		}
		out[r.Symbol] = t
	}
	if skipped > 0 {
		c.logger.Debug("binance-tickers-skipped", zap.Int("count", skipped))
	}

	c.tickers.tickers = out
	c.tickers.fetched = c.now()
	return out, nil
}

func (r ticker24h) parse() (Ticker, error) {
	var (
		t   Ticker
		err error
	)
	if t.Last, err = strconv.ParseFloat(r.LastPrice, 64); err != nil {
		return Ticker{}, err
	}
	if t.High, err = strconv.ParseFloat(r.HighPrice, 64); err != nil {
		return Ticker{}, err
	}
	if t.Low, err = strconv.ParseFloat(r.LowPrice, 64); err != nil {
		return Ticker{}, err
	}
	if t.QuoteVolume, err = strconv.ParseFloat(r.QuoteVolume, 64); err != nil {
		return Ticker{}, err
	}
	return t, nil
}
