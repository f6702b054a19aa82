package risk

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		Balance:         10000,
		RiskFraction:    0.01,
		DefaultStopLoss: 0.01,
		CapMultiplier:   3,
		Logger:          zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return m
}

func TestPositionSize(t *testing.T) {
	tests := []struct {
		name     string
		balance  float64
		fraction float64
		stopLoss float64
		want     float64
	}{
		{name: "explicit stop loss", balance: 10000, fraction: 0.01, stopLoss: 0.01, want: 10000},
		{name: "default stop loss", balance: 10000, fraction: 0.01, stopLoss: 0, want: 10000},
		{name: "wider stop shrinks size", balance: 10000, fraction: 0.01, stopLoss: 0.05, want: 2000},
		{name: "zero balance", balance: 0, fraction: 0.01, stopLoss: 0.01, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PositionSize(tt.balance, tt.fraction, tt.stopLoss, 0.01), 1e-9)
		})
	}
}

func TestPositionSize_CappedByCaller(t *testing.T) {
	// 100 at risk over a distance of 10 sizes the trade at 10.
	size := PositionSize(10000, 0.01, 10, 0.01)
	assert.InDelta(t, 10.0, size, 1e-9)

	assert.Equal(t, 5.0, min(size, 100.0, 5.0), "opportunity volume is the binding cap")
	assert.Equal(t, 10.0, min(size, 100.0, 50.0))
}

func TestCanOpen_Boundary(t *testing.T) {
	// cap = 10000 * 0.01 * 3 = 300
	assert.True(t, CanOpen(200, 10000, 100, 0.01, 3), "exactly at the cap is admitted")
	assert.True(t, CanOpen(200, 10000, 100-1e-9, 0.01, 3))
	assert.False(t, CanOpen(200, 10000, 100+1e-6, 0.01, 3))
	assert.False(t, CanOpen(300, 10000, 1, 0.01, 3))
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, LevelLow, RiskLevel(99, 10000))
	assert.Equal(t, LevelMedium, RiskLevel(100, 10000))
	assert.Equal(t, LevelMedium, RiskLevel(199, 10000))
	assert.Equal(t, LevelHigh, RiskLevel(200, 10000))
	assert.Equal(t, LevelHigh, RiskLevel(1, 0))
}

func TestKelly(t *testing.T) {
	k, err := Kelly(0.6, 2, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.6/0.4-0.5, k, 1e-12)

	_, err = Kelly(1, 2, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Kelly(0.5, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.Equal(t, 50.0, AdjustSize(100, 0.5))
	assert.Equal(t, 100.0, AdjustSize(100, 1.7))
	assert.Equal(t, 0.0, AdjustSize(100, -0.3))
}

func TestNewManager_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "nil logger", cfg: Config{Balance: 1, RiskFraction: 0.01, DefaultStopLoss: 0.01, CapMultiplier: 3}},
		{name: "zero balance", cfg: Config{RiskFraction: 0.01, DefaultStopLoss: 0.01, CapMultiplier: 3, Logger: logger}},
		{name: "risk fraction of one", cfg: Config{Balance: 1, RiskFraction: 1, DefaultStopLoss: 0.01, CapMultiplier: 3, Logger: logger}},
		{name: "zero stop loss", cfg: Config{Balance: 1, RiskFraction: 0.01, CapMultiplier: 3, Logger: logger}},
		{name: "zero multiplier", cfg: Config{Balance: 1, RiskFraction: 0.01, DefaultStopLoss: 0.01, Logger: logger}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestManager_RecordOpenClose(t *testing.T) {
	m := newTestManager(t)

	m.RecordOpen("a", 10000, 0.01)
	m.RecordOpen("b", 5000, 0)
	assert.InDelta(t, 150.0, m.Exposure(), 1e-9)
	assert.True(t, m.CanOpen(150))
	assert.False(t, m.CanOpen(151))

	m.RecordClose("a")
	assert.InDelta(t, 50.0, m.Exposure(), 1e-9)

	m.RecordClose("a")
	m.RecordClose("never-opened")
	assert.InDelta(t, 50.0, m.Exposure(), 1e-9, "closing unknown ids is a no-op")
}

func TestManager_TryRecordOpen(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.TryRecordOpen("a", 10000, 0.02))
	require.NoError(t, m.TryRecordOpen("b", 10000, 0))

	err := m.TryRecordOpen("c", 100, 0.01)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.InDelta(t, 300.0, m.Exposure(), 1e-9, "rejected admission records nothing")

	err = m.TryRecordOpen("a", 1, 0.01)
	assert.Error(t, err, "duplicate ids are rejected")
}

func TestManager_TryRecordOpenConcurrent(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if m.TryRecordOpen(fmt.Sprintf("p-%d", i), 4000, 0.01) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 7, admitted, "floor(300/40) positions fit under the cap")
	assert.LessOrEqual(t, m.Exposure(), 300.0+1e-9)
}

func TestManager_SetBalance(t *testing.T) {
	m := newTestManager(t)

	require.Error(t, m.SetBalance(0))
	require.Error(t, m.SetBalance(-5))
	assert.Equal(t, 10000.0, m.Status().Balance, "rejected balance leaves state unchanged")

	require.NoError(t, m.SetBalance(20000))
	assert.InDelta(t, 20000, m.PositionSize(0), 1e-9)
	assert.Equal(t, 600.0, m.Status().Cap)
}

func TestManager_ExposureOf(t *testing.T) {
	m := newTestManager(t)

	assert.InDelta(t, 100.0, m.ExposureOf(10000, 0.01), 1e-9)
	assert.InDelta(t, 100.0, m.ExposureOf(10000, 0), 1e-9, "default stop loss applies")
	assert.InDelta(t, 500.0, m.ExposureOf(10000, 0.05), 1e-9)
}

func TestManager_SetRiskFraction(t *testing.T) {
	m := newTestManager(t)

	require.Error(t, m.SetRiskFraction(0))
	require.NoError(t, m.SetRiskFraction(0.02))
	assert.Equal(t, 600.0, m.Status().Cap)
}

func TestManager_Status(t *testing.T) {
	m := newTestManager(t)
	m.RecordOpen("a", 15000, 0.01)

	st := m.Status()
	assert.Equal(t, 10000.0, st.Balance)
	assert.InDelta(t, 150.0, st.Exposure, 1e-9)
	assert.Equal(t, 300.0, st.Cap)
	assert.Equal(t, 1, st.OpenPositions)
	assert.Equal(t, LevelMedium, st.Level)
}
