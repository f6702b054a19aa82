package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/market"
	"go.uber.org/zap"
)

// PaperClient simulates fills against live quotes from a market source.
type PaperClient struct {
	source market.Source
	logger *zap.Logger

	mu     sync.Mutex
	trades map[string]paperTrade
}

type paperTrade struct {
	hops  []arbitrage.Hop
	size  float64
	entry map[string]float64
}

// NewPaperClient creates a paper trading client priced by source.
func NewPaperClient(source market.Source, logger *zap.Logger) *PaperClient {
	return &PaperClient{
		source: source,
		logger: logger,
		trades: make(map[string]paperTrade),
	}
}

// ExecuteArbitrageTrade fills every hop at the current quote.
func (p *PaperClient) ExecuteArbitrageTrade(ctx context.Context, hops []arbitrage.Hop, size float64) (string, error) {
	symbols := make([]string, len(hops))
	for i, h := range hops {
		symbols[i] = h.Symbol
	}

	prices, err := p.GetCurrentPrices(ctx, symbols)
	if err != nil {
		return "", err
	}
	for _, s := range symbols {
		if _, ok := prices[s]; !ok {
			return "", fmt.Errorf("no quote for %s", s)
		}
	}

	id := "paper-" + uuid.New().String()

	p.mu.Lock()
	p.trades[id] = paperTrade{
		hops:  append([]arbitrage.Hop(nil), hops...),
		size:  size,
		entry: prices,
	}
	p.mu.Unlock()

	p.logger.Info("paper-trade-executed",
		zap.String("trade-id", id),
		zap.Strings("symbols", symbols),
		zap.Float64("size", size))

	return id, nil
}

// GetCurrentPrices returns the source's latest price for each symbol.
func (p *PaperClient) GetCurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	quotes, err := p.source.Prices(ctx)
	if err != nil {
		return nil, fmt.Errorf("paper prices: %w", err)
	}

	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if q, ok := quotes[s]; ok {
			out[s] = q.Price
		}
	}
	return out, nil
}

// CloseArbitrageTrade marks the trade to market and returns profit in the starting asset.
func (p *PaperClient) CloseArbitrageTrade(ctx context.Context, tradeID string) (float64, error) {
	p.mu.Lock()
	trade, ok := p.trades[tradeID]
	p.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown paper trade %s", tradeID)
	}

	symbols := make([]string, len(trade.hops))
	for i, h := range trade.hops {
		symbols[i] = h.Symbol
	}
	current, err := p.GetCurrentPrices(ctx, symbols)
	if err != nil {
		return 0, err
	}

	pnl, ok := ReplayProfit(trade.hops, trade.entry, current)
	if !ok {
		return 0, fmt.Errorf("incomplete quotes for paper trade %s", tradeID)
	}

	p.mu.Lock()
	delete(p.trades, tradeID)
	p.mu.Unlock()

	profit := trade.size * pnl / 100
	p.logger.Info("paper-trade-closed",
		zap.String("trade-id", tradeID),
		zap.Float64("pnl-percent", pnl),
		zap.Float64("profit", profit))

	return profit, nil
}
