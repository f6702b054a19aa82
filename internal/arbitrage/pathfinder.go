package arbitrage

import (
	"iter"
	"time"

	"github.com/mselser95/triarb/internal/market"
	"go.uber.org/zap"
)

// Constraints bound which cycles are reported.
type Constraints struct {
	MinProfitPercent     float64
	MinVolume            float64
	MinVolatilityPercent float64
	MaxVolatilityPercent float64
}

// Rejection reasons, also used as metric labels.
const (
	rejectMalformed  = "malformed"
	rejectProfit     = "profit"
	rejectVolume     = "volume"
	rejectVolatility = "volatility"
)

// PathFinder enumerates 3-hop cycles in a market graph.
type PathFinder struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewPathFinder creates a PathFinder.
func NewPathFinder(logger *zap.Logger) *PathFinder {
	return &PathFinder{
		logger: logger,
		now:    time.Now,
	}
}

// Find yields every cycle A->B->C->A over distinct assets that satisfies c.
// The sequence is lazy and can be ranged over more than once; each pass
// re-walks the same immutable graph in the same order.
func (f *PathFinder) Find(g *market.Graph, c Constraints) iter.Seq[*Opportunity] {
	return func(yield func(*Opportunity) bool) {
		for _, a := range g.Assets() {
			for _, b := range g.Neighbors(a) {
				for _, cc := range g.Neighbors(b) {
					if cc == a {
						continue
					}

					opp, ok := f.evaluate(g, c, a, b, cc)
					if !ok {
						continue
					}
					if !yield(opp) {
						return
					}
				}
			}
		}
	}
}

// evaluate scores one ordered triple. Missing legs and malformed data skip the triple.
func (f *PathFinder) evaluate(g *market.Graph, c Constraints, a, b, cc string) (*Opportunity, bool) {
	path := []string{a, b, cc, a}

	hops := make([]market.Leg, 0, 3)
	for i := 0; i < 3; i++ {
		leg, ok := g.Leg(path[i], path[i+1])
		if !ok {
			return nil, false
		}
		if err := market.ValidateEdge(leg.Edge); err != nil {
			f.logger.Debug("malformed-market-data",
				zap.String("exchange", g.Exchange()),
				zap.Strings("path", path),
				zap.Error(err))
			OpportunitiesRejectedTotal.WithLabelValues(rejectMalformed).Inc()
			return nil, false
		}
		hops = append(hops, leg)
	}

	opp, err := NewOpportunity(g.Exchange(), path, toHops(path, hops), f.now())
	if err != nil {
		f.logger.Debug("opportunity-construction-failed",
			zap.String("exchange", g.Exchange()),
			zap.Strings("path", path),
			zap.Error(err))
		OpportunitiesRejectedTotal.WithLabelValues(rejectMalformed).Inc()
		return nil, false
	}

	if reason, ok := c.admit(opp); !ok {
		OpportunitiesRejectedTotal.WithLabelValues(reason).Inc()
		return nil, false
	}

	OpportunitiesDetectedTotal.WithLabelValues(g.Exchange()).Inc()
	OpportunityProfitPercent.Observe(opp.ProfitPercent)

	return opp, true
}

func toHops(path []string, legs []market.Leg) []Hop {
	hops := make([]Hop, len(legs))
	for i, leg := range legs {
		hops[i] = Hop{
			From:       path[i],
			To:         path[i+1],
			Symbol:     leg.Edge.Pair.Symbol,
			Inverted:   leg.Inverted,
			Price:      leg.Edge.Price,
			Rate:       leg.Rate(),
			Volume:     leg.Edge.Volume,
			Volatility: leg.Edge.Volatility,
		}
	}
	return hops
}

// admit applies the filters. Profit must strictly exceed the minimum.
func (c Constraints) admit(o *Opportunity) (string, bool) {
	if o.ProfitPercent <= c.MinProfitPercent {
		return rejectProfit, false
	}
	if o.Volume < c.MinVolume {
		return rejectVolume, false
	}
	if o.Volatility < c.MinVolatilityPercent || o.Volatility > c.MaxVolatilityPercent {
		return rejectVolatility, false
	}
	return "", true
}
