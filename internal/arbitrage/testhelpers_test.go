package arbitrage

import (
	"fmt"
	"time"

	"github.com/mselser95/triarb/internal/market"
)

// triangleGraph is a BTC/ETH/USDT market where ETH is overpriced in USDT,
// so BTC->ETH->USDT->BTC compounds to 1.04.
func triangleGraph() *market.Graph {
	pairs := []market.Pair{
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
	}
	quotes := map[string]market.Quote{
		"ETHBTC":  {Price: 0.05, Volatility: 0.3},
		"BTCUSDT": {Price: 50000, Volatility: 0.5},
		"ETHUSDT": {Price: 2600, Volatility: 0.4},
	}
	volumes := map[string]float64{
		"ETHBTC":  20000,
		"BTCUSDT": 900000,
		"ETHUSDT": 500000,
	}
	return market.NewGraph("binance", pairs, quotes, volumes)
}

func permissive() Constraints {
	return Constraints{
		MinProfitPercent:     0.5,
		MinVolume:            10000,
		MinVolatilityPercent: 0.1,
		MaxVolatilityPercent: 1.0,
	}
}

// opp builds a cached entry with the given profit and detection time.
func opp(exchange string, profit float64, at time.Time) *Opportunity {
	return &Opportunity{
		ID:            profitID(profit, at),
		Exchange:      exchange,
		Path:          []string{"A", "B", "C", "A"},
		ProfitPercent: profit,
		Volume:        1000,
		DetectedAt:    at,
	}
}

func profitID(profit float64, at time.Time) string {
	return fmt.Sprintf("%s-%.4f", at.Format(time.RFC3339Nano), profit)
}
