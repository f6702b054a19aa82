package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/market"
)

// StaticSource is an in-memory market.Source whose quotes can be moved between calls.
type StaticSource struct {
	Name string

	mu      sync.RWMutex
	pairs   []market.Pair
	quotes  map[string]market.Quote
	volumes map[string]float64
	err     error
	calls   int
}

// NewTriangleSource returns a BTC/ETH/USDT market where BTC->ETH->USDT->BTC
// compounds to 1.04 (4% profit) with a bottleneck volume of 20000.
func NewTriangleSource(name string) *StaticSource {
	return &StaticSource{
		Name: name,
		pairs: []market.Pair{
			{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
			{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
			{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
		},
		quotes: map[string]market.Quote{
			"ETHBTC":  {Price: 0.05, Volatility: 0.3},
			"BTCUSDT": {Price: 50000, Volatility: 0.5},
			"ETHUSDT": {Price: 2600, Volatility: 0.4},
		},
		volumes: map[string]float64{
			"ETHBTC":  20000,
			"BTCUSDT": 900000,
			"ETHUSDT": 500000,
		},
	}
}

// Exchange implements market.Source.
func (s *StaticSource) Exchange() string { return s.Name }

// Pairs implements market.Source.
func (s *StaticSource) Pairs(context.Context) ([]market.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]market.Pair(nil), s.pairs...), nil
}

// Prices implements market.Source.
func (s *StaticSource) Prices(context.Context) (map[string]market.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]market.Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out, nil
}

// Volumes implements market.Source.
func (s *StaticSource) Volumes(context.Context) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]float64, len(s.volumes))
	for k, v := range s.volumes {
		out[k] = v
	}
	return out, nil
}

// SetPrice moves the price of symbol.
func (s *StaticSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.quotes[symbol]
	q.Price = price
	s.quotes[symbol] = q
}

// RemovePrice drops the quote for symbol.
func (s *StaticSource) RemovePrice(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, symbol)
}

// SetPairs replaces the listing.
func (s *StaticSource) SetPairs(pairs []market.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = append([]market.Pair(nil), pairs...)
}

// SetError makes every call fail with err (nil clears it).
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// PairCalls returns how many times Pairs was called, i.e. graph loads.
func (s *StaticSource) PairCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// CreateTestOpportunity builds the BTC->ETH->USDT->BTC opportunity priced like NewTriangleSource.
func CreateTestOpportunity(exchange string) *arbitrage.Opportunity {
	hops := []arbitrage.Hop{
		{From: "BTC", To: "ETH", Symbol: "ETHBTC", Inverted: true, Price: 0.05, Rate: 20, Volume: 20000, Volatility: 0.3},
		{From: "ETH", To: "USDT", Symbol: "ETHUSDT", Price: 2600, Rate: 2600, Volume: 500000, Volatility: 0.4},
		{From: "USDT", To: "BTC", Symbol: "BTCUSDT", Inverted: true, Price: 50000, Rate: 1.0 / 50000, Volume: 900000, Volatility: 0.5},
	}

	opp, err := arbitrage.NewOpportunity(exchange, []string{"BTC", "ETH", "USDT", "BTC"}, hops, time.Now())
	if err != nil {
		panic(err)
	}
	return opp
}
