// Package notify delivers trade lifecycle events to operators and downstream consumers.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/mselser95/triarb/internal/execution"
	"go.uber.org/zap"
)

// Event types.
const (
	EventTradeOpened = "trade_opened"
	EventTradeClosed = "trade_closed"
)

// Event is the payload published for each trade transition.
type Event struct {
	Type     string             `json:"type"`
	Position execution.Position `json:"position"`
	SentAt   time.Time          `json:"sent_at"`
}

// LogSink writes trade events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// TradeOpened implements execution.Notifier.
func (s *LogSink) TradeOpened(_ context.Context, p execution.Position) error {
	s.logger.Info("notify-trade-opened",
		zap.String("position-id", p.ID),
		zap.String("trade-id", p.TradeID),
		zap.String("exchange", p.Exchange),
		zap.Strings("path", p.Path),
		zap.Float64("size", p.Size),
		zap.Float64("expected-profit-percent", p.ExpectedProfit))
	return nil
}

// TradeClosed implements execution.Notifier.
func (s *LogSink) TradeClosed(_ context.Context, p execution.Position) error {
	s.logger.Info("notify-trade-closed",
		zap.String("position-id", p.ID),
		zap.String("trade-id", p.TradeID),
		zap.String("exchange", p.Exchange),
		zap.String("reason", p.CloseReason),
		zap.Float64("realized-profit", p.RealizedProfit),
		zap.Float64("last-pnl-percent", p.LastPnL))
	return nil
}

// Multi fans each event out to every sink. A failing sink does not stop the
// others; their errors are joined.
type Multi []execution.Notifier

// TradeOpened implements execution.Notifier.
func (m Multi) TradeOpened(ctx context.Context, p execution.Position) error {
	var errs []error
	for _, n := range m {
		if err := n.TradeOpened(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TradeClosed implements execution.Notifier.
func (m Multi) TradeClosed(ctx context.Context, p execution.Position) error {
	var errs []error
	for _, n := range m {
		if err := n.TradeClosed(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
