package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/execution"
	"go.uber.org/zap"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ConsoleStorage implements Storage by pretty-printing to the console.
type ConsoleStorage struct {
	out    io.Writer
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage writing to stdout.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		out:    os.Stdout,
		logger: logger,
	}
}

// StoreOpportunity pretty-prints an opportunity.
func (c *ConsoleStorage) StoreOpportunity(_ context.Context, opp *arbitrage.Opportunity) error {
	var b strings.Builder

	fmt.Fprintln(&b, "\n"+rule)
	fmt.Fprintf(&b, "🎯 TRIANGULAR ARBITRAGE OPPORTUNITY\n")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "ID:       %s\n", opp.ID[:min(8, len(opp.ID))])
	fmt.Fprintf(&b, "Exchange: %s\n", opp.Exchange)
	fmt.Fprintf(&b, "Path:     %s\n", JoinPath(opp.Path))
	fmt.Fprintf(&b, "Time:     %s\n", opp.DetectedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "📊 LEGS\n")
	for _, h := range opp.Hops {
		side := "sell"
		if h.Inverted {
			side = "buy "
		}
		fmt.Fprintf(&b, "  %-5s -> %-5s %s %-10s @ %.8f (rate %.8f)\n", h.From, h.To, side, h.Symbol, h.Price, h.Rate)
	}
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "💰 PROFIT:     %.4f%%\n", opp.ProfitPercent)
	fmt.Fprintf(&b, "   Volume:     %.2f\n", opp.Volume)
	fmt.Fprintf(&b, "   Volatility: %.4f%%\n", opp.Volatility)
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(c.out, b.String())
	return err
}

// AddTrade logs an opened trade.
func (c *ConsoleStorage) AddTrade(_ context.Context, rec execution.TradeRecord) error {
	c.logger.Info("trade-opened",
		zap.String("trade-id", rec.TradeID),
		zap.String("user-id", rec.UserID),
		zap.String("exchange", rec.Exchange),
		zap.String("path", JoinPath(rec.Path)),
		zap.Float64("expected-profit-percent", rec.Profit),
		zap.Float64("volume", rec.Volume))
	return nil
}

// CloseTrade logs a closed trade.
func (c *ConsoleStorage) CloseTrade(_ context.Context, tradeID string, profit float64) error {
	c.logger.Info("trade-closed",
		zap.String("trade-id", tradeID),
		zap.Float64("profit", profit))
	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}
