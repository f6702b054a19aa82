package arbitrage

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidOpportunity is returned when an opportunity fails construction checks.
var ErrInvalidOpportunity = errors.New("invalid opportunity")

// Hop is one leg of a cycle: trading From for To on the Symbol market.
type Hop struct {
	From       string
	To         string
	Symbol     string
	Inverted   bool    // true when the leg sells the pair's quote asset for its base
	Price      float64 // pair price as quoted by the exchange
	Rate       float64 // units of To per unit of From
	Volume     float64
	Volatility float64
}

// Opportunity is a scored triangular cycle. It is read-only once built.
type Opportunity struct {
	ID            string
	Exchange      string
	Path          []string // [A, B, C, A]
	Hops          []Hop
	ProfitPercent float64
	Volume        float64 // bottleneck volume across hops
	Volatility    float64 // highest hop volatility
	DetectedAt    time.Time
}

// NewOpportunity validates the cycle and derives profit, volume and volatility from its hops.
func NewOpportunity(exchange string, path []string, hops []Hop, detectedAt time.Time) (*Opportunity, error) {
	if len(path) != 4 || len(hops) != 3 {
		return nil, fmt.Errorf("%w: need 4 path symbols and 3 hops, got %d and %d",
			ErrInvalidOpportunity, len(path), len(hops))
	}
	if path[0] != path[3] {
		return nil, fmt.Errorf("%w: path %v does not close", ErrInvalidOpportunity, path)
	}

	rate := 1.0
	volume := math.Inf(1)
	volatility := 0.0

	for i, h := range hops {
		if h.From != path[i] || h.To != path[i+1] {
			return nil, fmt.Errorf("%w: hop %d %s->%s does not follow path %v",
				ErrInvalidOpportunity, i, h.From, h.To, path)
		}
		if !positiveFinite(h.Rate) {
			return nil, fmt.Errorf("%w: hop %s has rate %v", ErrInvalidOpportunity, h.Symbol, h.Rate)
		}

		rate *= h.Rate
		volume = math.Min(volume, h.Volume)
		volatility = math.Max(volatility, h.Volatility)
	}

	return &Opportunity{
		ID:            uuid.New().String(),
		Exchange:      exchange,
		Path:          append([]string(nil), path...),
		Hops:          append([]Hop(nil), hops...),
		ProfitPercent: (rate - 1) * 100,
		Volume:        volume,
		Volatility:    volatility,
		DetectedAt:    detectedAt,
	}, nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Rate returns the compounded rate of the cycle.
func (o *Opportunity) Rate() float64 {
	return 1 + o.ProfitPercent/100
}

// Symbols returns the pair symbols traded along the path, in order.
func (o *Opportunity) Symbols() []string {
	out := make([]string, len(o.Hops))
	for i, h := range o.Hops {
		out[i] = h.Symbol
	}
	return out
}

// EntryPrices maps each traded pair to its quoted price at detection.
func (o *Opportunity) EntryPrices() map[string]float64 {
	out := make(map[string]float64, len(o.Hops))
	for _, h := range o.Hops {
		out[h.Symbol] = h.Price
	}
	return out
}

// String returns a human-readable representation of the opportunity.
func (o *Opportunity) String() string {
	return fmt.Sprintf("Opportunity[%s] %s %s profit=%.4f%% volume=%.2f volatility=%.2f%%",
		shortID(o.ID), o.Exchange, strings.Join(o.Path, "->"), o.ProfitPercent, o.Volume, o.Volatility)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
