package autotrader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/execution"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned when a config update is rejected.
var ErrInvalidConfig = errors.New("invalid auto-trader config")

// Feed supplies ranked opportunities per exchange.
type Feed interface {
	Opportunities(ctx context.Context, exchange string) []*arbitrage.Opportunity
}

// Risk sizes and admits positions.
type Risk interface {
	PositionSize(stopLossDistance float64) float64
	ExposureOf(size, stopLossDistance float64) float64
	CanOpen(proposed float64) bool
}

// Executor opens positions.
type Executor interface {
	Open(ctx context.Context, exchange string, opp *arbitrage.Opportunity, size float64) *execution.OpenResult
	Settings() execution.Settings
}

// Config holds the live-tunable auto-trading parameters.
type Config struct {
	Exchanges        []string
	TradingInterval  time.Duration
	MinProfitPercent float64
	MaxTradeVolume   float64
}

// Validate checks every field.
func (c Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("%w: at least one exchange is required", ErrInvalidConfig)
	}
	if c.TradingInterval <= 0 {
		return fmt.Errorf("%w: trading interval must be positive, got %s", ErrInvalidConfig, c.TradingInterval)
	}
	if c.MinProfitPercent < 0 || math.IsNaN(c.MinProfitPercent) {
		return fmt.Errorf("%w: min profit percent must be non-negative, got %v", ErrInvalidConfig, c.MinProfitPercent)
	}
	if c.MaxTradeVolume <= 0 || math.IsNaN(c.MaxTradeVolume) {
		return fmt.Errorf("%w: max trade volume must be positive, got %v", ErrInvalidConfig, c.MaxTradeVolume)
	}
	return nil
}

// ConfigUpdate is a partial config; nil fields are left unchanged.
type ConfigUpdate struct {
	Exchanges        []string
	TradingInterval  *time.Duration
	MinProfitPercent *float64
	MaxTradeVolume   *float64
}

// Options wires a Trader.
type Options struct {
	Config   Config
	Feed     Feed
	Risk     Risk
	Executor Executor
	Logger   *zap.Logger
}

// Trader periodically executes admissible opportunities. At most one cycle
// runs at a time; ticks that arrive while a cycle is running are dropped.
type Trader struct {
	feed     Feed
	risk     Risk
	executor Executor
	logger   *zap.Logger

	mu  sync.RWMutex
	cfg Config

	cycleMu sync.Mutex
	// executed holds, per exchange, the cycle paths already opened that the feed
	// still ranks. Guarded by cycleMu.
	executed map[string]map[string]struct{}

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates an auto-trader.
func New(opts Options) (*Trader, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts.Feed == nil || opts.Risk == nil || opts.Executor == nil {
		return nil, fmt.Errorf("feed, risk and executor are required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	opts.Config.Exchanges = slices.Clone(opts.Config.Exchanges)
	return &Trader{
		feed:     opts.Feed,
		risk:     opts.Risk,
		executor: opts.Executor,
		logger:   opts.Logger,
		cfg:      opts.Config,
		executed: make(map[string]map[string]struct{}),
	}, nil
}

// Config returns the current configuration.
func (t *Trader) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cfg := t.cfg
	cfg.Exchanges = slices.Clone(cfg.Exchanges)
	return cfg
}

// UpdateConfig merges u into the configuration. An invalid update leaves the
// configuration unchanged. A new interval applies from the next tick.
func (t *Trader) UpdateConfig(u ConfigUpdate) (Config, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.cfg
	if u.Exchanges != nil {
		next.Exchanges = slices.Clone(u.Exchanges)
	}
	if u.TradingInterval != nil {
		next.TradingInterval = *u.TradingInterval
	}
	if u.MinProfitPercent != nil {
		next.MinProfitPercent = *u.MinProfitPercent
	}
	if u.MaxTradeVolume != nil {
		next.MaxTradeVolume = *u.MaxTradeVolume
	}

	if err := next.Validate(); err != nil {
		t.logger.Warn("autotrader-config-rejected", zap.Error(err))
		return t.cfg, err
	}

	t.cfg = next
	t.logger.Info("autotrader-config-updated",
		zap.Strings("exchanges", next.Exchanges),
		zap.Duration("trading-interval", next.TradingInterval),
		zap.Float64("min-profit-percent", next.MinProfitPercent),
		zap.Float64("max-trade-volume", next.MaxTradeVolume))
	return next, nil
}

// Running reports whether the tick loop is active.
func (t *Trader) Running() bool {
	return t.running.Load()
}

// Start runs a cycle immediately and then on every trading interval until
// ctx is cancelled or Stop is called.
func (t *Trader) Start(ctx context.Context) {
	t.mu.Lock()
	if !t.running.CompareAndSwap(false, true) {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.stop = stop
	interval := t.cfg.TradingInterval
	t.mu.Unlock()

	t.logger.Info("autotrader-starting", zap.Duration("trading-interval", interval))

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				t.mu.Lock()
				if t.stop == stop {
					t.running.Store(false)
				}
				t.mu.Unlock()
				t.logger.Info("autotrader-stopping", zap.String("reason", "context-cancelled"))
				return
			case <-stop:
				t.logger.Info("autotrader-stopping", zap.String("reason", "stopped"))
				return
			case <-timer.C:
				t.wg.Add(1)
				go func() {
					defer t.wg.Done()
					t.ExecuteCycle(ctx)
				}()
				timer.Reset(t.Config().TradingInterval)
			}
		}
	}()
}

// Stop prevents further ticks. A cycle already in progress runs to completion.
func (t *Trader) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running.CompareAndSwap(true, false) {
		return
	}
	close(t.stop)
	t.logger.Info("autotrader-stop-requested")
}

// Wait blocks until the loop and any in-flight cycle have exited.
func (t *Trader) Wait() {
	t.wg.Wait()
}

// ExecuteCycle runs one trading cycle. It returns false without doing
// anything when another cycle is already running.
func (t *Trader) ExecuteCycle(ctx context.Context) bool {
	if !t.cycleMu.TryLock() {
		CyclesTotal.WithLabelValues("skipped").Inc()
		t.logger.Info("autotrader-cycle-skipped", zap.String("reason", "cycle-in-progress"))
		return false
	}
	defer t.cycleMu.Unlock()

	t.logger.Info("autotrader-cycle-started")
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			CyclesTotal.WithLabelValues("panicked").Inc()
			t.logger.Error("autotrader-cycle-panic", zap.Any("panic", r), zap.Stack("stack"))
			return
		}
		CyclesTotal.WithLabelValues("completed").Inc()
		CycleDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	cfg := t.Config()
	opened := 0
	for _, exchange := range cfg.Exchanges {
		if ctx.Err() != nil {
			return true
		}
		opened += t.tradeExchange(ctx, exchange, cfg)
	}

	t.logger.Debug("autotrader-cycle-complete",
		zap.Int("positions-opened", opened),
		zap.Duration("duration", time.Since(start)))
	return true
}

// tradeExchange opens every admissible opportunity the feed ranks for exchange.
// A ranking keeps an opportunity until it ages out and a rescan ranks the same
// cycle again under a new ID, so a path already opened is skipped for as long as
// any entry for it stays ranked.
func (t *Trader) tradeExchange(ctx context.Context, exchange string, cfg Config) int {
	opps := t.feed.Opportunities(ctx, exchange)
	done := t.pruneExecuted(exchange, opps)

	opened := 0
	for _, opp := range opps {
		if ctx.Err() != nil {
			break
		}

		if _, ok := done[pathKey(opp)]; ok {
			CandidatesTotal.WithLabelValues(exchange, "already-executed").Inc()
			continue
		}

		decision := t.evaluate(opp, cfg)
		if decision.reason != "" {
			CandidatesTotal.WithLabelValues(exchange, decision.reason).Inc()
			t.logger.Debug("autotrader-candidate-rejected",
				zap.String("exchange", exchange),
				zap.String("opportunity-id", opp.ID),
				zap.String("reason", decision.reason))
			continue
		}

		result := t.executor.Open(ctx, exchange, opp, decision.size)
		if !result.Success {
			CandidatesTotal.WithLabelValues(exchange, "failed").Inc()
			t.logger.Warn("auto-trade-failed",
				zap.String("exchange", exchange),
				zap.String("opportunity-id", opp.ID),
				zap.Float64("size", decision.size),
				zap.Error(result.Error))
			continue
		}

		done[pathKey(opp)] = struct{}{}
		opened++
		CandidatesTotal.WithLabelValues(exchange, "opened").Inc()
		t.logger.Info("auto-trade-executed",
			zap.String("exchange", exchange),
			zap.String("opportunity-id", opp.ID),
			zap.String("position-id", result.PositionID),
			zap.String("trade-id", result.TradeID),
			zap.Bool("dry-run", result.DryRun),
			zap.Float64("size", result.Size),
			zap.Float64("profit-percent", opp.ProfitPercent))
	}
	return opened
}

// pruneExecuted forgets executed paths that opps no longer ranks and returns
// the exchange's remaining set.
func (t *Trader) pruneExecuted(exchange string, opps []*arbitrage.Opportunity) map[string]struct{} {
	done, ok := t.executed[exchange]
	if !ok {
		done = make(map[string]struct{})
		t.executed[exchange] = done
		return done
	}

	ranked := make(map[string]struct{}, len(opps))
	for _, opp := range opps {
		ranked[pathKey(opp)] = struct{}{}
	}
	for key := range done {
		if _, ok := ranked[key]; !ok {
			delete(done, key)
		}
	}
	return done
}

func pathKey(opp *arbitrage.Opportunity) string {
	return strings.Join(opp.Path, "/")
}

type decision struct {
	size   float64
	reason string
}

func (t *Trader) evaluate(opp *arbitrage.Opportunity, cfg Config) decision {
	if opp.ProfitPercent < cfg.MinProfitPercent {
		return decision{reason: "below-min-profit"}
	}
	if opp.Volume > cfg.MaxTradeVolume {
		return decision{reason: "above-max-volume"}
	}

	// The budget is checked against what can actually fill, not the Kelly size.
	stopLoss := t.executor.Settings().StopLossPercent / 100
	size := min(t.risk.PositionSize(stopLoss), opp.Volume)
	if size <= 0 {
		return decision{reason: "zero-size"}
	}
	if !t.risk.CanOpen(t.risk.ExposureOf(size, stopLoss)) {
		return decision{reason: "risk-budget"}
	}
	return decision{size: size}
}
