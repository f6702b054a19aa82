package execution

import (
	"fmt"
	"maps"
	"time"

	"github.com/mselser95/triarb/internal/arbitrage"
)

// Status is the lifecycle state of a position.
type Status string

// Position states. Closed and Failed are terminal.
const (
	StatusPendingOpen Status = "pending_open"
	StatusOpen        Status = "open"
	StatusClosing     Status = "closing"
	StatusClosed      Status = "closed"
	StatusFailed      Status = "failed"
)

//nolint:gochecknoglobals // transition table
var transitions = map[Status][]Status{
	StatusPendingOpen: {StatusOpen, StatusFailed},
	StatusOpen:        {StatusClosing, StatusFailed},
	StatusClosing:     {StatusClosed, StatusOpen, StatusFailed},
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// Live reports whether the position still occupies an exchange slot.
func (s Status) Live() bool {
	return !s.Terminal()
}

// CanTransition reports whether s -> to is allowed.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Close reasons.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonManual     = "manual"
)

// Position is one executed cycle tracked from open to close.
type Position struct {
	ID             string             `json:"id"`
	TradeID        string             `json:"trade_id"`
	Exchange       string             `json:"exchange"`
	OpportunityID  string             `json:"opportunity_id"`
	Path           []string           `json:"path"`
	Hops           []arbitrage.Hop    `json:"-"`
	Size           float64            `json:"size"`
	StopLoss       float64            `json:"stop_loss_percent"` // at open, sizes the risk reservation
	EntryPrices    map[string]float64 `json:"entry_prices"`
	ExpectedProfit float64            `json:"expected_profit_percent"`
	LastPnL        float64            `json:"last_pnl_percent"`
	RealizedProfit float64            `json:"realized_profit"`
	Status         Status             `json:"status"`
	CloseReason    string             `json:"close_reason,omitempty"`
	Error          string             `json:"error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	OpenedAt       time.Time          `json:"opened_at,omitempty"`
	ClosedAt       time.Time          `json:"closed_at,omitempty"`
}

func (p *Position) transition(to Status) error {
	if !p.Status.CanTransition(to) {
		return fmt.Errorf("position %s: illegal transition %s -> %s", p.ID, p.Status, to)
	}
	p.Status = to
	return nil
}

// snapshot returns a copy safe to hand out while the original keeps changing.
func (p *Position) snapshot() Position {
	cp := *p
	cp.Path = append([]string(nil), p.Path...)
	cp.Hops = append([]arbitrage.Hop(nil), p.Hops...)
	cp.EntryPrices = maps.Clone(p.EntryPrices)
	return cp
}

// Symbols returns the pair symbols traded by the position.
func (p *Position) Symbols() []string {
	out := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		out[i] = h.Symbol
	}
	return out
}
