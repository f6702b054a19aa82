package execution

import (
	"context"
	"time"

	"github.com/mselser95/triarb/internal/arbitrage"
)

// TradingClient executes cycles on one exchange.
type TradingClient interface {
	// ExecuteArbitrageTrade runs the cycle described by hops with size units of
	// the starting asset and returns the exchange-side trade id.
	ExecuteArbitrageTrade(ctx context.Context, hops []arbitrage.Hop, size float64) (string, error)
	// GetCurrentPrices returns the latest price for each requested pair symbol.
	// Symbols without a price are omitted.
	GetCurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error)
	// CloseArbitrageTrade unwinds tradeID and returns the realized profit.
	CloseArbitrageTrade(ctx context.Context, tradeID string) (float64, error)
}

// TradeRecord is the persisted form of an opened trade.
type TradeRecord struct {
	TradeID  string
	UserID   string
	Exchange string
	Path     []string
	Profit   float64 // expected profit percent at open
	Volume   float64
	OpenedAt time.Time
}

// Store persists trades.
type Store interface {
	AddTrade(ctx context.Context, rec TradeRecord) error
	CloseTrade(ctx context.Context, tradeID string, profit float64) error
}

// Notifier announces position lifecycle events.
type Notifier interface {
	TradeOpened(ctx context.Context, pos Position) error
	TradeClosed(ctx context.Context, pos Position) error
}

// Gate can veto trading, e.g. a balance circuit breaker.
type Gate interface {
	IsEnabled() bool
	RecordTrade(size float64)
}

// RiskBudget reserves and releases exposure for positions.
type RiskBudget interface {
	TryRecordOpen(id string, size, stopLossDistance float64) error
	RecordClose(id string)
}
