package circuitbreaker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BalanceFetcher returns the free balance of the account's quote asset.
type BalanceFetcher interface {
	GetBalance(ctx context.Context) (float64, error)
}

// BalanceCircuitBreaker monitors the exchange balance and gates trade execution.
// Thresholds follow the rolling average trade size, with hysteresis between
// disabling and re-enabling to avoid flapping.
type BalanceCircuitBreaker struct {
	enabled atomic.Bool // Lock-free reads from the executor hot path

	checkInterval   time.Duration
	fetcher         BalanceFetcher
	onBalance       func(float64)
	logger          *zap.Logger
	tradeMultiplier float64
	minAbsolute     float64
	hysteresisRatio float64

	mu               sync.RWMutex
	lastBalance      float64
	lastCheck        time.Time
	recentTrades     []float64 // last 20 trade sizes
	disableThreshold float64
	enableThreshold  float64

	wg sync.WaitGroup
}

// Config holds circuit breaker configuration.
type Config struct {
	CheckInterval   time.Duration
	TradeMultiplier float64
	MinAbsolute     float64
	HysteresisRatio float64
	Fetcher         BalanceFetcher
	// OnBalance, if set, receives every successfully fetched balance.
	OnBalance func(balance float64)
	Logger    *zap.Logger
}

// Status holds current circuit breaker state.
type Status struct {
	Enabled          bool      `json:"enabled"`
	LastBalance      float64   `json:"last_balance"`
	LastCheck        time.Time `json:"last_check"`
	DisableThreshold float64   `json:"disable_threshold"`
	EnableThreshold  float64   `json:"enable_threshold"`
	AvgTradeSize     float64   `json:"avg_trade_size"`
	RecentTradeCount int       `json:"recent_trade_count"`
}

const tradeWindow = 20

// New creates a new circuit breaker.
func New(cfg *Config) (*BalanceCircuitBreaker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("balance fetcher cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive")
	}
	if cfg.TradeMultiplier <= 0 {
		return nil, fmt.Errorf("trade multiplier must be positive")
	}
	if cfg.MinAbsolute <= 0 {
		return nil, fmt.Errorf("min absolute must be positive")
	}
	if cfg.HysteresisRatio < 1.0 {
		return nil, fmt.Errorf("hysteresis ratio must be >= 1.0")
	}

	b := &BalanceCircuitBreaker{
		checkInterval:    cfg.CheckInterval,
		fetcher:          cfg.Fetcher,
		onBalance:        cfg.OnBalance,
		logger:           cfg.Logger,
		tradeMultiplier:  cfg.TradeMultiplier,
		minAbsolute:      cfg.MinAbsolute,
		hysteresisRatio:  cfg.HysteresisRatio,
		recentTrades:     make([]float64, 0, tradeWindow),
		disableThreshold: cfg.MinAbsolute,
		enableThreshold:  cfg.MinAbsolute * cfg.HysteresisRatio,
	}
	b.enabled.Store(true)

	Enabled.Set(1)
	DisableThreshold.Set(b.disableThreshold)
	EnableThreshold.Set(b.enableThreshold)
	AvgTradeSize.Set(0)

	return b, nil
}

// IsEnabled reports whether trades may be executed.
func (b *BalanceCircuitBreaker) IsEnabled() bool {
	return b.enabled.Load()
}

// RecordTrade adds an executed trade size to the rolling window and
// recalculates thresholds.
func (b *BalanceCircuitBreaker) RecordTrade(size float64) {
	if size <= 0 {
		b.logger.Warn("invalid-trade-size", zap.Float64("size", size))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.recentTrades = append(b.recentTrades, size)
	if len(b.recentTrades) > tradeWindow {
		b.recentTrades = b.recentTrades[1:]
	}

	avg := b.avgLocked()
	b.disableThreshold = math.Max(avg*b.tradeMultiplier, b.minAbsolute)
	b.enableThreshold = b.disableThreshold * b.hysteresisRatio

	AvgTradeSize.Set(avg)
	DisableThreshold.Set(b.disableThreshold)
	EnableThreshold.Set(b.enableThreshold)

	b.logger.Debug("thresholds-updated",
		zap.Float64("avg-trade-size", avg),
		zap.Int("trade-count", len(b.recentTrades)),
		zap.Float64("disable-threshold", b.disableThreshold),
		zap.Float64("enable-threshold", b.enableThreshold))
}

// CheckBalance fetches the balance and updates the enabled state.
func (b *BalanceCircuitBreaker) CheckBalance(ctx context.Context) error {
	start := time.Now()
	defer func() {
		CheckDuration.Observe(time.Since(start).Seconds())
	}()

	balance, err := b.fetcher.GetBalance(ctx)
	if err != nil {
		b.logger.Error("failed-to-check-balance", zap.Error(err))
		return fmt.Errorf("get balance: %w", err)
	}

	b.mu.Lock()
	b.lastBalance = balance
	b.lastCheck = time.Now()
	disable, enable := b.disableThreshold, b.enableThreshold
	b.mu.Unlock()

	Balance.Set(balance)
	if b.onBalance != nil {
		b.onBalance(balance)
	}

	current := b.enabled.Load()
	switch {
	case current && balance < disable:
		b.enabled.Store(false)
		Enabled.Set(0)
		StateChanges.Inc()
		b.logger.Warn("circuit-breaker-disabled",
			zap.Float64("balance", balance),
			zap.Float64("disable-threshold", disable),
			zap.Float64("enable-threshold", enable))
	case !current && balance >= enable:
		b.enabled.Store(true)
		Enabled.Set(1)
		StateChanges.Inc()
		b.logger.Info("circuit-breaker-enabled",
			zap.Float64("balance", balance),
			zap.Float64("disable-threshold", disable),
			zap.Float64("enable-threshold", enable))
	default:
		b.logger.Debug("balance-checked",
			zap.Float64("balance", balance),
			zap.Bool("enabled", current))
	}

	return nil
}

// Start checks the balance once and then on every check interval until ctx is cancelled.
func (b *BalanceCircuitBreaker) Start(ctx context.Context) {
	b.logger.Info("circuit-breaker-started",
		zap.Duration("check-interval", b.checkInterval),
		zap.Float64("trade-multiplier", b.tradeMultiplier),
		zap.Float64("min-absolute", b.minAbsolute),
		zap.Float64("hysteresis-ratio", b.hysteresisRatio))

	if err := b.CheckBalance(ctx); err != nil {
		b.logger.Error("initial-balance-check-failed", zap.Error(err))
	}

	b.wg.Add(1)
	go b.monitorLoop(ctx)
}

// Wait blocks until the monitor loop has exited.
func (b *BalanceCircuitBreaker) Wait() {
	b.wg.Wait()
}

func (b *BalanceCircuitBreaker) monitorLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("circuit-breaker-stopped")
			return
		case <-ticker.C:
			if err := b.CheckBalance(ctx); err != nil {
				b.logger.Error("balance-check-error", zap.Error(err))
			}
		}
	}
}

// GetStatus returns the current state.
func (b *BalanceCircuitBreaker) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Status{
		Enabled:          b.enabled.Load(),
		LastBalance:      b.lastBalance,
		LastCheck:        b.lastCheck,
		DisableThreshold: b.disableThreshold,
		EnableThreshold:  b.enableThreshold,
		AvgTradeSize:     b.avgLocked(),
		RecentTradeCount: len(b.recentTrades),
	}
}

func (b *BalanceCircuitBreaker) avgLocked() float64 {
	if len(b.recentTrades) == 0 {
		return 0
	}
	sum := 0.0
	for _, size := range b.recentTrades {
		sum += size
	}
	return sum / float64(len(b.recentTrades))
}
