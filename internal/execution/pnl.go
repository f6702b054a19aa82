package execution

import "github.com/mselser95/triarb/internal/arbitrage"

// ReplayProfit re-walks hops with current prices and returns the profit percent
// relative to entry. Each leg scales the running amount by current/entry; legs
// that trade against the pair's direction divide by that ratio instead.
// The second result is false when any hop lacks a usable price.
func ReplayProfit(hops []arbitrage.Hop, entry, current map[string]float64) (float64, bool) {
	amount := 1.0

	for _, h := range hops {
		cur, ok := current[h.Symbol]
		if !ok || cur <= 0 {
			return 0, false
		}
		base, ok := entry[h.Symbol]
		if !ok || base <= 0 {
			return 0, false
		}

		ratio := cur / base
		if h.Inverted {
			amount /= ratio
		} else {
			amount *= ratio
		}
	}

	return (amount - 1) * 100, true
}
