package market

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Pair is one tradable symbol on an exchange, e.g. ETHBTC with base ETH and quote BTC.
type Pair struct {
	Symbol string
	Base   string
	Quote  string
}

// Quote is the latest price snapshot for a pair.
// Price is expressed as units of Quote per one unit of Base.
type Quote struct {
	Price      float64
	Volatility float64 // percent
}

// Edge is the market data attached to one pair in the graph.
type Edge struct {
	Pair       Pair
	Price      float64
	Volume     float64
	Volatility float64
}

// Leg is an edge seen from a traversal direction.
// Inverted is true when the walk goes from the pair's quote to its base.
type Leg struct {
	Edge     Edge
	Inverted bool
}

// Rate is the amount of the destination asset received per unit of the source asset.
func (l Leg) Rate() float64 {
	if l.Inverted {
		return 1 / l.Edge.Price
	}
	return l.Edge.Price
}

// Graph is an immutable snapshot of an exchange's markets. Nodes are assets and
// every pair contributes one undirected edge.
type Graph struct {
	exchange  string
	edges     map[string]Edge // keyed by base + "/" + quote
	neighbors map[string][]string
	assets    []string
}

func edgeKey(base, quote string) string {
	return base + "/" + quote
}

// NewGraph builds a graph from pairs and their quotes and volumes.
// Pairs without a quote are left out; a missing volume is recorded as zero.
func NewGraph(exchange string, pairs []Pair, quotes map[string]Quote, volumes map[string]float64) *Graph {
	g := &Graph{
		exchange:  exchange,
		edges:     make(map[string]Edge, len(pairs)),
		neighbors: make(map[string][]string),
	}

	for _, p := range pairs {
		q, ok := quotes[p.Symbol]
		if !ok || p.Base == "" || p.Quote == "" || p.Base == p.Quote {
			continue
		}

		key := edgeKey(p.Base, p.Quote)
		if _, dup := g.edges[key]; dup {
			continue
		}

		g.edges[key] = Edge{
			Pair:       p,
			Price:      q.Price,
			Volume:     volumes[p.Symbol],
			Volatility: q.Volatility,
		}
		g.neighbors[p.Base] = append(g.neighbors[p.Base], p.Quote)
		g.neighbors[p.Quote] = append(g.neighbors[p.Quote], p.Base)
	}

	g.assets = make([]string, 0, len(g.neighbors))
	for asset, adj := range g.neighbors {
		sort.Strings(adj)
		g.neighbors[asset] = dedupSorted(adj)
		g.assets = append(g.assets, asset)
	}
	sort.Strings(g.assets)

	return g
}

func dedupSorted(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i > 0 && in[i-1] == s {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Exchange returns the exchange this snapshot was taken from.
func (g *Graph) Exchange() string {
	return g.exchange
}

// Assets returns every asset with at least one market, sorted.
func (g *Graph) Assets() []string {
	return append([]string(nil), g.assets...)
}

// Neighbors returns the assets directly tradable against asset, sorted.
func (g *Graph) Neighbors(asset string) []string {
	return g.neighbors[asset]
}

// EdgeCount returns the number of pairs in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Leg finds the market connecting from and to in either direction.
// The direct pair from/to wins over the reverse pair to/from.
func (g *Graph) Leg(from, to string) (Leg, bool) {
	if e, ok := g.edges[edgeKey(from, to)]; ok {
		return Leg{Edge: e}, true
	}
	if e, ok := g.edges[edgeKey(to, from)]; ok {
		return Leg{Edge: e, Inverted: true}, true
	}
	return Leg{}, false
}

// Price returns how much of to one unit of from buys. The reverse pair is
// inverted. The second result is false when no market connects the assets.
func (g *Graph) Price(from, to string) (float64, bool) {
	leg, ok := g.Leg(from, to)
	if !ok {
		return 0, false
	}
	return leg.Rate(), true
}

// ValidateEdge reports malformed market data on a single edge.
func ValidateEdge(e Edge) error {
	switch {
	case math.IsNaN(e.Price) || math.IsInf(e.Price, 0) || e.Price <= 0:
		return fmt.Errorf("%s: invalid price %v", e.Pair.Symbol, e.Price)
	case math.IsNaN(e.Volume) || math.IsInf(e.Volume, 0) || e.Volume < 0:
		return fmt.Errorf("%s: invalid volume %v", e.Pair.Symbol, e.Volume)
	case math.IsNaN(e.Volatility) || math.IsInf(e.Volatility, 0) || e.Volatility < 0:
		return fmt.Errorf("%s: invalid volatility %v", e.Pair.Symbol, e.Volatility)
	}
	return nil
}

// SplitSymbol splits a concatenated symbol such as ETHBTC using the known quote assets.
// The longest matching quote suffix wins.
func SplitSymbol(symbol string, quotes []string) (Pair, bool) {
	best := ""
	for _, q := range quotes {
		if strings.HasSuffix(symbol, q) && len(q) > len(best) && len(q) < len(symbol) {
			best = q
		}
	}
	if best == "" {
		return Pair{}, false
	}
	return Pair{Symbol: symbol, Base: strings.TrimSuffix(symbol, best), Quote: best}, true
}
