package storage

import (
	"context"
	"strings"
	"time"

	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/execution"
)

// Trade statuses.
const (
	TradeOpen   = "open"
	TradeClosed = "closed"
)

// Storage persists detected opportunities and executed trades.
type Storage interface {
	// StoreOpportunity records a detected opportunity.
	StoreOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error

	// AddTrade records a newly opened trade.
	AddTrade(ctx context.Context, rec execution.TradeRecord) error

	// CloseTrade marks a trade closed with its realized profit.
	CloseTrade(ctx context.Context, tradeID string, profit float64) error

	// Close closes the storage connection.
	Close() error
}

// TradeReader reads back persisted trades.
type TradeReader interface {
	Trades(ctx context.Context, userID, status string) ([]Trade, error)
	Stats(ctx context.Context, userID string) (Stats, error)
}

// Trade is a persisted trade row.
type Trade struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Exchange  string     `json:"exchange"`
	Path      string     `json:"path"`
	Profit    float64    `json:"profit"`
	Volume    float64    `json:"volume"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Stats summarizes closed trades.
type Stats struct {
	TotalTrades      int     `json:"total_trades"`
	ProfitableTrades int     `json:"profitable_trades"`
	TotalProfit      float64 `json:"total_profit"`
	AvgProfit        float64 `json:"avg_profit"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"` // positive magnitude
}

// WinRate is the fraction of closed trades that were profitable.
func (s Stats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.ProfitableTrades) / float64(s.TotalTrades)
}

// JoinPath renders a cycle as "BTC->ETH->USDT->BTC".
func JoinPath(path []string) string {
	return strings.Join(path, "->")
}
