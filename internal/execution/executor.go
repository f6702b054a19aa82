package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/triarb/internal/arbitrage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// monitorConcurrency bounds how many positions are priced at once.
const monitorConcurrency = 4

// Open rejections.
var (
	ErrTradingDisabled    = errors.New("trading is disabled")
	ErrUnknownExchange    = errors.New("unknown exchange")
	ErrTooManyPositions   = errors.New("maximum concurrent positions reached")
	ErrRiskBudgetExceeded = errors.New("risk budget exceeded")
	ErrInvalidSize        = errors.New("position size must be positive")
)

// OpenResult is the outcome of an Open call.
type OpenResult struct {
	PositionID string
	TradeID    string
	Exchange   string
	Size       float64
	DryRun     bool
	Success    bool
	Error      error
}

// CloseResult is the outcome of a Close call.
type CloseResult struct {
	PositionID     string
	NotFound       bool
	RealizedProfit float64
	Success        bool
	Error          error
}

// Executor owns the position lifecycle across one or more exchanges.
//
// Position and settings mutations happen under mu; exchange calls never do.
type Executor struct {
	logger          *zap.Logger
	risk            RiskBudget
	store           Store
	notifier        Notifier
	gate            Gate
	userID          string
	monitorInterval time.Duration
	now             func() time.Time

	mu        sync.Mutex
	clients   map[string]TradingClient
	positions map[string]*Position
	settings  Settings

	wg sync.WaitGroup
}

// Config holds executor configuration.
type Config struct {
	Settings        Settings
	Risk            RiskBudget
	Store           Store    // optional
	Notifier        Notifier // optional
	Gate            Gate     // optional
	UserID          string
	MonitorInterval time.Duration
	Logger          *zap.Logger
	Now             func() time.Time
}

// New creates a new trade executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Risk == nil {
		return nil, fmt.Errorf("risk budget cannot be nil")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Executor{
		logger:          cfg.Logger,
		risk:            cfg.Risk,
		store:           cfg.Store,
		notifier:        cfg.Notifier,
		gate:            cfg.Gate,
		userID:          cfg.UserID,
		monitorInterval: cfg.MonitorInterval,
		now:             cfg.Now,
		clients:         make(map[string]TradingClient),
		positions:       make(map[string]*Position),
		settings:        cfg.Settings,
	}, nil
}

// AddExchange registers a trading client under name.
func (e *Executor) AddExchange(name string, client TradingClient) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clients[name] = client
	e.logger.Info("exchange-registered", zap.String("exchange", name))
}

// Open executes opp on exchange with up to size units of the starting asset.
func (e *Executor) Open(ctx context.Context, exchange string, opp *arbitrage.Opportunity, size float64) *OpenResult {
	result := &OpenResult{Exchange: exchange}

	if opp == nil || len(opp.Hops) != 3 {
		return e.rejectOpen(result, "", arbitrage.ErrInvalidOpportunity)
	}

	e.mu.Lock()

	if !e.settings.TradingEnabled || (e.gate != nil && !e.gate.IsEnabled()) {
		e.mu.Unlock()
		return e.rejectOpen(result, opp.ID, ErrTradingDisabled)
	}

	client, ok := e.clients[exchange]
	if !ok {
		e.mu.Unlock()
		return e.rejectOpen(result, opp.ID, fmt.Errorf("%w: %s", ErrUnknownExchange, exchange))
	}

	if live := e.liveCountLocked(exchange); live >= e.settings.MaxConcurrent {
		e.mu.Unlock()
		return e.rejectOpen(result, opp.ID, fmt.Errorf("%w: %d on %s", ErrTooManyPositions, live, exchange))
	}

	size = min(size, e.settings.MaxPositionSize, opp.Volume)
	if size <= 0 {
		e.mu.Unlock()
		return e.rejectOpen(result, opp.ID, ErrInvalidSize)
	}
	result.Size = size

	if e.settings.DryRun {
		e.mu.Unlock()

		result.DryRun = true
		result.Success = true
		result.TradeID = "dry-run-" + uuid.New().String()
		PositionsOpenedTotal.WithLabelValues("dry-run", "success").Inc()

		e.logger.Info("dry-run-trade",
			zap.String("exchange", exchange),
			zap.String("opportunity-id", opp.ID),
			zap.Strings("path", opp.Path),
			zap.Float64("size", size),
			zap.Float64("expected-profit-percent", opp.ProfitPercent))
		return result
	}

	id := uuid.New().String()
	stopLoss := e.settings.StopLossPercent
	if err := e.risk.TryRecordOpen(id, size, stopLoss/100); err != nil {
		e.mu.Unlock()
		return e.rejectOpen(result, opp.ID, fmt.Errorf("%w: %v", ErrRiskBudgetExceeded, err))
	}

	pos := &Position{
		ID:             id,
		Exchange:       exchange,
		OpportunityID:  opp.ID,
		Path:           append([]string(nil), opp.Path...),
		Hops:           append([]arbitrage.Hop(nil), opp.Hops...),
		Size:           size,
		StopLoss:       stopLoss,
		ExpectedProfit: opp.ProfitPercent,
		Status:         StatusPendingOpen,
		CreatedAt:      e.now(),
	}
	e.positions[id] = pos
	e.publishOpenCountLocked(exchange)
	e.mu.Unlock()

	result.PositionID = id

	start := time.Now()
	tradeID, err := client.ExecuteArbitrageTrade(ctx, opp.Hops, size)
	ExecutionDurationSeconds.WithLabelValues("open").Observe(time.Since(start).Seconds())

	e.mu.Lock()
	if err != nil {
		_ = pos.transition(StatusFailed)
		pos.Error = err.Error()
		pos.ClosedAt = e.now()
		e.publishOpenCountLocked(exchange)
		e.mu.Unlock()

		e.risk.RecordClose(id)
		ExecutionErrorsTotal.WithLabelValues("open").Inc()
		PositionsOpenedTotal.WithLabelValues("exchange", "failed").Inc()
		e.logger.Error("open-position-failed",
			zap.String("position-id", id),
			zap.String("exchange", exchange),
			zap.Strings("path", opp.Path),
			zap.Error(err))

		result.Error = fmt.Errorf("execute trade: %w", err)
		return result
	}

	_ = pos.transition(StatusOpen)
	pos.TradeID = tradeID
	pos.EntryPrices = opp.EntryPrices()
	pos.OpenedAt = e.now()
	snap := pos.snapshot()
	e.mu.Unlock()

	result.TradeID = tradeID
	result.Success = true
	PositionsOpenedTotal.WithLabelValues("exchange", "success").Inc()

	e.logger.Info("position-opened",
		zap.String("position-id", id),
		zap.String("trade-id", tradeID),
		zap.String("exchange", exchange),
		zap.Strings("path", opp.Path),
		zap.Float64("size", size),
		zap.Float64("expected-profit-percent", opp.ProfitPercent))

	if e.gate != nil {
		e.gate.RecordTrade(size)
	}
	e.persistOpen(ctx, snap)
	e.notifyOpened(ctx, snap)

	return result
}

func (e *Executor) rejectOpen(result *OpenResult, oppID string, err error) *OpenResult {
	PositionsOpenedTotal.WithLabelValues("exchange", "rejected").Inc()
	e.logger.Debug("open-rejected",
		zap.String("exchange", result.Exchange),
		zap.String("opportunity-id", oppID),
		zap.Error(err))
	result.Error = err
	return result
}

// Close unwinds an open position. Unknown or no-longer-open ids return a
// NotFound result without error.
func (e *Executor) Close(ctx context.Context, id string, reason string) *CloseResult {
	result := &CloseResult{PositionID: id}

	e.mu.Lock()
	pos, ok := e.positions[id]
	if !ok || pos.Status != StatusOpen {
		e.mu.Unlock()
		result.NotFound = true
		return result
	}
	client, ok := e.clients[pos.Exchange]
	if !ok {
		e.mu.Unlock()
		result.Error = fmt.Errorf("%w: %s", ErrUnknownExchange, pos.Exchange)
		return result
	}
	_ = pos.transition(StatusClosing)
	tradeID := pos.TradeID
	e.mu.Unlock()

	start := time.Now()
	profit, err := client.CloseArbitrageTrade(ctx, tradeID)
	ExecutionDurationSeconds.WithLabelValues("close").Observe(time.Since(start).Seconds())

	e.mu.Lock()
	if err != nil {
		// Back to Open so the next monitor tick or a manual close can retry.
		_ = pos.transition(StatusOpen)
		pos.Error = err.Error()
		e.mu.Unlock()

		ExecutionErrorsTotal.WithLabelValues("close").Inc()
		e.logger.Error("close-position-failed",
			zap.String("position-id", id),
			zap.String("trade-id", tradeID),
			zap.String("reason", reason),
			zap.Error(err))

		result.Error = fmt.Errorf("close trade: %w", err)
		return result
	}

	_ = pos.transition(StatusClosed)
	pos.RealizedProfit = profit
	pos.CloseReason = reason
	pos.ClosedAt = e.now()
	pos.Error = ""
	snap := pos.snapshot()
	e.publishOpenCountLocked(pos.Exchange)
	e.mu.Unlock()

	e.risk.RecordClose(id)

	PositionsClosedTotal.WithLabelValues(reason).Inc()
	ProfitRealized.WithLabelValues(snap.Exchange).Add(profit)

	e.logger.Info("position-closed",
		zap.String("position-id", id),
		zap.String("trade-id", tradeID),
		zap.String("reason", reason),
		zap.Float64("realized-profit", profit),
		zap.Float64("last-pnl-percent", snap.LastPnL))

	e.persistClose(ctx, snap)
	e.notifyClosed(ctx, snap)

	result.RealizedProfit = profit
	result.Success = true
	return result
}

// Monitor evaluates every open position once and closes those past their
// stop-loss or take-profit. It works on a snapshot, so positions closed
// concurrently are skipped.
func (e *Executor) Monitor(ctx context.Context) {
	e.mu.Lock()
	open := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		if pos.Status == StatusOpen {
			open = append(open, pos.snapshot())
		}
	}
	e.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(monitorConcurrency)
	for _, pos := range open {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e.evaluate(ctx, pos)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Executor) evaluate(ctx context.Context, pos Position) {
	e.mu.Lock()
	client, ok := e.clients[pos.Exchange]
	sl, tp := e.settings.StopLossPercent, e.settings.TakeProfitPercent
	e.mu.Unlock()
	if !ok {
		return
	}

	prices, err := client.GetCurrentPrices(ctx, pos.Symbols())
	if err != nil {
		MonitorSkipsTotal.Inc()
		e.logger.Warn("monitor-prices-failed",
			zap.String("position-id", pos.ID),
			zap.Error(err))
		return
	}

	pnl, ok := ReplayProfit(pos.Hops, pos.EntryPrices, prices)
	if !ok {
		MonitorSkipsTotal.Inc()
		e.logger.Debug("monitor-price-missing",
			zap.String("position-id", pos.ID),
			zap.Strings("symbols", pos.Symbols()))
		return
	}

	e.mu.Lock()
	if live, ok := e.positions[pos.ID]; ok && live.Status == StatusOpen {
		live.LastPnL = pnl
	}
	e.mu.Unlock()

	switch {
	case pnl <= -sl:
		e.Close(ctx, pos.ID, ReasonStopLoss)
	case pnl >= tp:
		e.Close(ctx, pos.ID, ReasonTakeProfit)
	}
}

// Start runs Monitor on the configured interval until ctx is cancelled.
func (e *Executor) Start(ctx context.Context) {
	e.logger.Info("position-monitor-starting", zap.Duration("interval", e.monitorInterval))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.monitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				e.logger.Info("position-monitor-stopping")
				return
			case <-ticker.C:
				e.Monitor(ctx)
			}
		}
	}()
}

// Wait blocks until the monitor loop has exited.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Positions returns snapshots of every tracked position, oldest first.
func (e *Executor) Positions() []Position {
	e.mu.Lock()
	out := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, pos.snapshot())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OpenPositions returns snapshots of positions in the Open state.
func (e *Executor) OpenPositions() []Position {
	all := e.Positions()
	out := all[:0]
	for _, p := range all {
		if p.Status == StatusOpen {
			out = append(out, p)
		}
	}
	return out
}

// Position returns a snapshot of one position.
func (e *Executor) Position(id string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[id]
	if !ok {
		return Position{}, false
	}
	return pos.snapshot(), true
}

func (e *Executor) liveCountLocked(exchange string) int {
	n := 0
	for _, pos := range e.positions {
		if pos.Exchange == exchange && pos.Status.Live() {
			n++
		}
	}
	return n
}

func (e *Executor) publishOpenCountLocked(exchange string) {
	OpenPositions.WithLabelValues(exchange).Set(float64(e.liveCountLocked(exchange)))
}

func (e *Executor) persistOpen(ctx context.Context, pos Position) {
	if e.store == nil {
		return
	}
	err := e.store.AddTrade(ctx, TradeRecord{
		TradeID:  pos.TradeID,
		UserID:   e.userID,
		Exchange: pos.Exchange,
		Path:     pos.Path,
		Profit:   pos.ExpectedProfit,
		Volume:   pos.Size,
		OpenedAt: pos.OpenedAt,
	})
	if err != nil {
		e.logger.Error("persist-trade-failed", zap.String("trade-id", pos.TradeID), zap.Error(err))
	}
}

func (e *Executor) persistClose(ctx context.Context, pos Position) {
	if e.store == nil {
		return
	}
	if err := e.store.CloseTrade(ctx, pos.TradeID, pos.RealizedProfit); err != nil {
		e.logger.Error("persist-close-failed", zap.String("trade-id", pos.TradeID), zap.Error(err))
	}
}

func (e *Executor) notifyOpened(ctx context.Context, pos Position) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.TradeOpened(ctx, pos); err != nil {
		e.logger.Warn("notify-opened-failed", zap.String("position-id", pos.ID), zap.Error(err))
	}
}

func (e *Executor) notifyClosed(ctx context.Context, pos Position) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.TradeClosed(ctx, pos); err != nil {
		e.logger.Warn("notify-closed-failed", zap.String("position-id", pos.ID), zap.Error(err))
	}
}
