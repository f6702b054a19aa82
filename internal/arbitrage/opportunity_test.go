package arbitrage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hops(rates ...float64) []Hop {
	path := []string{"BTC", "ETH", "USDT", "BTC"}
	out := make([]Hop, len(rates))
	for i, r := range rates {
		out[i] = Hop{From: path[i], To: path[i+1], Symbol: path[i] + path[i+1], Rate: r, Price: r,
			Volume: float64(1000 * (i + 1)), Volatility: float64(i) / 10}
	}
	return out
}

func TestNewOpportunity(t *testing.T) {
	path := []string{"BTC", "ETH", "USDT", "BTC"}

	o, err := NewOpportunity("binance", path, hops(20, 2600, 1.0/50000), time.Now())
	require.NoError(t, err)

	assert.InDelta(t, 4.0, o.ProfitPercent, 1e-9)
	assert.Equal(t, 1000.0, o.Volume, "volume is the bottleneck hop")
	assert.Equal(t, 0.2, o.Volatility, "volatility is the highest hop")
	assert.Equal(t, []string{"BTCETH", "ETHUSDT", "USDTBTC"}, o.Symbols())
	assert.NotEmpty(t, o.ID)
	assert.Contains(t, o.String(), "BTC->ETH->USDT->BTC")
}

func TestNewOpportunity_BreakEvenCycle(t *testing.T) {
	// 20 * 2500 / 50000 == 1.0: no profit, so any positive minimum rejects it.
	path := []string{"BTC", "ETH", "USDT", "BTC"}

	o, err := NewOpportunity("binance", path, hops(20, 2500, 1.0/50000), time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.0, o.ProfitPercent, 1e-9)

	_, ok := permissive().admit(o)
	assert.False(t, ok)
}

func TestNewOpportunity_Invalid(t *testing.T) {
	tests := []struct {
		name string
		path []string
		hops []Hop
	}{
		{name: "open path", path: []string{"BTC", "ETH", "USDT", "ETH"}, hops: hops(1, 1, 1)},
		{name: "short path", path: []string{"BTC", "ETH", "BTC"}, hops: hops(1, 1)},
		{name: "hop mismatch", path: []string{"BTC", "USDT", "ETH", "BTC"}, hops: hops(1, 1, 1)},
		{name: "nan rate", path: []string{"BTC", "ETH", "USDT", "BTC"}, hops: hops(1, math.NaN(), 1)},
		{name: "zero rate", path: []string{"BTC", "ETH", "USDT", "BTC"}, hops: hops(1, 0, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOpportunity("binance", tt.path, tt.hops, time.Now())
			assert.ErrorIs(t, err, ErrInvalidOpportunity)
		})
	}
}

func TestOpportunity_EntryPrices(t *testing.T) {
	g := triangleGraph()
	finder := NewPathFinder(testLogger(t))

	var first *Opportunity
	for o := range finder.Find(g, permissive()) {
		first = o
		break
	}
	require.NotNil(t, first)

	assert.Equal(t, map[string]float64{
		"ETHBTC":  0.05,
		"ETHUSDT": 2600,
		"BTCUSDT": 50000,
	}, first.EntryPrices())
	assert.InDelta(t, 1.04, first.Rate(), 1e-9)
}
