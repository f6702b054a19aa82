package market

import (
	"context"
	"fmt"
	"time"
)

// Source supplies market data for one exchange.
type Source interface {
	Exchange() string
	// Prices returns pair symbol -> {price, volatility}.
	Prices(ctx context.Context) (map[string]Quote, error)
	// Volumes returns pair symbol -> 24h volume in quote units.
	Volumes(ctx context.Context) (map[string]float64, error)
	// Pairs returns the tradable pairs, which form the graph's adjacency.
	Pairs(ctx context.Context) ([]Pair, error)
}

// LoadGraph snapshots src into a new Graph.
func LoadGraph(ctx context.Context, src Source) (*Graph, error) {
	start := time.Now()

	pairs, err := src.Pairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pairs for %s: %w", src.Exchange(), err)
	}

	prices, err := src.Prices(ctx)
	if err != nil {
		return nil, fmt.Errorf("load prices for %s: %w", src.Exchange(), err)
	}

	volumes, err := src.Volumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load volumes for %s: %w", src.Exchange(), err)
	}

	g := NewGraph(src.Exchange(), pairs, prices, volumes)

	GraphLoadDuration.WithLabelValues(src.Exchange()).Observe(time.Since(start).Seconds())
	GraphEdges.WithLabelValues(src.Exchange()).Set(float64(g.EdgeCount()))

	return g, nil
}
