package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// Level is a reporting bucket for exposure relative to balance.
type Level string

// Risk levels.
const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// ErrInvalidConfig is returned when a risk parameter is rejected.
var ErrInvalidConfig = errors.New("invalid risk configuration")

// ErrBudgetExceeded is returned when a position would push exposure past the portfolio cap.
var ErrBudgetExceeded = errors.New("risk budget exceeded")

// PositionSize returns balance*riskFraction/stopLossDistance. A non-positive
// stop-loss distance is replaced by defaultStopLoss.
func PositionSize(balance, riskFraction, stopLossDistance, defaultStopLoss float64) float64 {
	if stopLossDistance <= 0 {
		stopLossDistance = defaultStopLoss
	}
	if stopLossDistance <= 0 || balance <= 0 || riskFraction <= 0 {
		return 0
	}
	return balance * riskFraction / stopLossDistance
}

// CanOpen reports whether existing+proposed stays within balance*riskFraction*capMultiplier.
func CanOpen(existing, balance, proposed, riskFraction, capMultiplier float64) bool {
	return existing+proposed <= balance*riskFraction*capMultiplier
}

// RiskLevel buckets exposure: under 1% of balance is low, under 2% medium, else high.
func RiskLevel(exposure, balance float64) Level {
	if balance <= 0 {
		return LevelHigh
	}

	ratio := exposure / balance
	switch {
	case ratio < 0.01:
		return LevelLow
	case ratio < 0.02:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// Kelly returns the Kelly fraction winRate/lossRate - avgLoss/avgWin.
// The result is advisory and never applied automatically.
func Kelly(winRate, avgWin, avgLoss float64) (float64, error) {
	if winRate <= 0 || winRate >= 1 {
		return 0, fmt.Errorf("%w: win rate must be in (0, 1), got %f", ErrInvalidConfig, winRate)
	}
	if avgWin <= 0 || avgLoss < 0 {
		return 0, fmt.Errorf("%w: average win must be positive and average loss non-negative", ErrInvalidConfig)
	}
	return winRate/(1-winRate) - avgLoss/avgWin, nil
}

// AdjustSize scales size by a Kelly fraction clamped to [0, 1].
func AdjustSize(size, kelly float64) float64 {
	return size * math.Max(0, math.Min(1, kelly))
}

type exposure struct {
	size     float64
	stopLoss float64
}

// Manager tracks the risk budget of one account.
type Manager struct {
	logger *zap.Logger

	mu              sync.Mutex
	balance         float64
	riskFraction    float64
	defaultStopLoss float64
	capMultiplier   float64
	open            map[string]exposure
}

// Config configures a Manager.
type Config struct {
	Balance         float64
	RiskFraction    float64 // per-trade fraction of balance, e.g. 0.01
	DefaultStopLoss float64 // used when no stop-loss distance is given, e.g. 0.01
	CapMultiplier   float64 // portfolio cap in per-trade budgets, e.g. 3
	Logger          *zap.Logger
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
	}
	if cfg.Balance <= 0 {
		return nil, fmt.Errorf("%w: balance must be positive, got %f", ErrInvalidConfig, cfg.Balance)
	}
	if cfg.RiskFraction <= 0 || cfg.RiskFraction >= 1 {
		return nil, fmt.Errorf("%w: risk fraction must be in (0, 1), got %f", ErrInvalidConfig, cfg.RiskFraction)
	}
	if cfg.DefaultStopLoss <= 0 {
		return nil, fmt.Errorf("%w: default stop loss must be positive, got %f", ErrInvalidConfig, cfg.DefaultStopLoss)
	}
	if cfg.CapMultiplier <= 0 {
		return nil, fmt.Errorf("%w: cap multiplier must be positive, got %f", ErrInvalidConfig, cfg.CapMultiplier)
	}

	m := &Manager{
		logger:          cfg.Logger,
		balance:         cfg.Balance,
		riskFraction:    cfg.RiskFraction,
		defaultStopLoss: cfg.DefaultStopLoss,
		capMultiplier:   cfg.CapMultiplier,
		open:            make(map[string]exposure),
	}
	m.publishLocked()

	return m, nil
}

// PositionSize sizes a trade against the current balance.
func (m *Manager) PositionSize(stopLossDistance float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return PositionSize(m.balance, m.riskFraction, stopLossDistance, m.defaultStopLoss)
}

// CanOpen reports whether a proposed exposure (see ExposureOf) fits next to the current one.
func (m *Manager) CanOpen(proposed float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CanOpen(m.exposureLocked(), m.balance, proposed, m.riskFraction, m.capMultiplier)
}

// ExposureOf is the amount at risk for a position of size with the given
// stop-loss distance (a fraction, e.g. 0.01 for 1%).
func (m *Manager) ExposureOf(size, stopLossDistance float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return size * m.stopLossOrDefault(stopLossDistance)
}

func (m *Manager) stopLossOrDefault(stopLossDistance float64) float64 {
	if stopLossDistance <= 0 {
		return m.defaultStopLoss
	}
	return stopLossDistance
}

// TryRecordOpen admits and records a position in one step, so that no other
// caller can consume the same headroom in between.
func (m *Manager) TryRecordOpen(id string, size, stopLossDistance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.open[id]; exists {
		return fmt.Errorf("position %s already recorded", id)
	}

	existing := m.exposureLocked()
	proposed := size * m.stopLossOrDefault(stopLossDistance)
	if !CanOpen(existing, m.balance, proposed, m.riskFraction, m.capMultiplier) {
		AdmissionsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: exposure %.4f + %.4f exceeds cap %.4f", ErrBudgetExceeded,
			existing, proposed, m.capLocked())
	}

	m.recordLocked(id, size, stopLossDistance)
	AdmissionsTotal.WithLabelValues("admitted").Inc()
	return nil
}

// RecordOpen records a position without an admission check.
func (m *Manager) RecordOpen(id string, size, stopLossDistance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(id, size, stopLossDistance)
}

func (m *Manager) recordLocked(id string, size, stopLossDistance float64) {
	m.open[id] = exposure{size: size, stopLoss: m.stopLossOrDefault(stopLossDistance)}
	m.publishLocked()

	m.logger.Debug("exposure-recorded",
		zap.String("position-id", id),
		zap.Float64("size", size),
		zap.Float64("total-exposure", m.exposureLocked()))
}

// RecordClose releases a position's exposure. Unknown ids are ignored.
func (m *Manager) RecordClose(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.open[id]; !ok {
		return
	}
	delete(m.open, id)
	m.publishLocked()

	m.logger.Debug("exposure-released",
		zap.String("position-id", id),
		zap.Float64("total-exposure", m.exposureLocked()))
}

// SetBalance replaces the account balance. Non-positive balances are rejected.
func (m *Manager) SetBalance(balance float64) error {
	if balance <= 0 || math.IsNaN(balance) || math.IsInf(balance, 0) {
		return fmt.Errorf("%w: balance must be positive, got %f", ErrInvalidConfig, balance)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
	m.publishLocked()
	return nil
}

// SetRiskFraction replaces the per-trade risk fraction.
func (m *Manager) SetRiskFraction(fraction float64) error {
	if fraction <= 0 || fraction >= 1 {
		return fmt.Errorf("%w: risk fraction must be in (0, 1), got %f", ErrInvalidConfig, fraction)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskFraction = fraction
	m.publishLocked()
	return nil
}

// Exposure returns the summed amount at risk of open positions.
func (m *Manager) Exposure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposureLocked()
}

// Status is a point-in-time view of the budget.
type Status struct {
	Balance       float64 `json:"balance"`
	RiskFraction  float64 `json:"risk_fraction"`
	CapMultiplier float64 `json:"cap_multiplier"`
	Cap           float64 `json:"cap"`
	Exposure      float64 `json:"exposure"`
	OpenPositions int     `json:"open_positions"`
	Level         Level   `json:"level"`
}

// Status returns the current budget.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp := m.exposureLocked()
	return Status{
		Balance:       m.balance,
		RiskFraction:  m.riskFraction,
		CapMultiplier: m.capMultiplier,
		Cap:           m.capLocked(),
		Exposure:      exp,
		OpenPositions: len(m.open),
		Level:         RiskLevel(exp, m.balance),
	}
}

func (m *Manager) exposureLocked() float64 {
	sum := 0.0
	for _, e := range m.open {
		sum += e.size * e.stopLoss
	}
	return sum
}

func (m *Manager) capLocked() float64 {
	return m.balance * m.riskFraction * m.capMultiplier
}

func (m *Manager) publishLocked() {
	BalanceGauge.Set(m.balance)
	ExposureGauge.Set(m.exposureLocked())
	CapGauge.Set(m.capLocked())
}
