package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraph() *Graph {
	pairs := []Pair{
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
		{Symbol: "DOGEUSDT", Base: "DOGE", Quote: "USDT"}, // no quote
	}
	quotes := map[string]Quote{
		"ETHBTC":  {Price: 0.05, Volatility: 0.3},
		"BTCUSDT": {Price: 50000, Volatility: 0.5},
		"ETHUSDT": {Price: 2500, Volatility: 0.4},
	}
	volumes := map[string]float64{
		"ETHBTC":  20000,
		"BTCUSDT": 900000,
	}
	return NewGraph("binance", pairs, quotes, volumes)
}

func TestGraph_PriceBothDirections(t *testing.T) {
	g := testGraph()

	p, ok := g.Price("ETH", "BTC")
	require.True(t, ok)
	assert.Equal(t, 0.05, p)

	p, ok = g.Price("BTC", "ETH")
	require.True(t, ok)
	assert.InDelta(t, 20.0, p, 1e-12)
}

func TestGraph_MissingEdgeIsAbsent(t *testing.T) {
	g := testGraph()

	_, ok := g.Price("DOGE", "USDT")
	assert.False(t, ok, "pair without a quote must not become an edge")

	_, ok = g.Price("ETH", "XRP")
	assert.False(t, ok)
}

func TestGraph_MissingVolumeIsZero(t *testing.T) {
	g := testGraph()

	leg, ok := g.Leg("USDT", "ETH")
	require.True(t, ok)
	assert.True(t, leg.Inverted)
	assert.Equal(t, 0.0, leg.Edge.Volume)
}

func TestGraph_NeighborsSorted(t *testing.T) {
	g := testGraph()

	assert.Equal(t, []string{"BTC", "ETH", "USDT"}, g.Assets())
	assert.Equal(t, []string{"BTC", "USDT"}, g.Neighbors("ETH"))
	assert.Equal(t, []string{"BTC", "ETH"}, g.Neighbors("USDT"))
	assert.Equal(t, 3, g.EdgeCount())
	assert.Equal(t, "binance", g.Exchange())
}

func TestValidateEdge(t *testing.T) {
	tests := []struct {
		name    string
		edge    Edge
		wantErr bool
	}{
		{name: "valid", edge: Edge{Price: 1, Volume: 1, Volatility: 0.1}},
		{name: "zero price", edge: Edge{Price: 0, Volume: 1}, wantErr: true},
		{name: "nan price", edge: Edge{Price: math.NaN(), Volume: 1}, wantErr: true},
		{name: "inf volume", edge: Edge{Price: 1, Volume: math.Inf(1)}, wantErr: true},
		{name: "negative volatility", edge: Edge{Price: 1, Volume: 1, Volatility: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEdge(tt.edge)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitSymbol(t *testing.T) {
	quotes := []string{"BTC", "USDT", "USD"}

	p, ok := SplitSymbol("ETHUSDT", quotes)
	require.True(t, ok)
	assert.Equal(t, Pair{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"}, p)

	p, ok = SplitSymbol("ETHBTC", quotes)
	require.True(t, ok)
	assert.Equal(t, "ETH", p.Base)

	_, ok = SplitSymbol("USDT", quotes)
	assert.False(t, ok)

	_, ok = SplitSymbol("ETHEUR", quotes)
	assert.False(t, ok)
}
