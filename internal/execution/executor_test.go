package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/triarb/internal/risk"
	"github.com/mselser95/triarb/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingStore struct {
	mu     sync.Mutex
	added  []TradeRecord
	closed map[string]float64
}

func (s *recordingStore) AddTrade(_ context.Context, rec TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, rec)
	return nil
}

func (s *recordingStore) CloseTrade(_ context.Context, tradeID string, profit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == nil {
		s.closed = map[string]float64{}
	}
	s.closed[tradeID] = profit
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	opened []Position
	closed []Position
}

func (n *recordingNotifier) TradeOpened(_ context.Context, p Position) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, p)
	return nil
}

func (n *recordingNotifier) TradeClosed(_ context.Context, p Position) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, p)
	return errors.New("chat unavailable")
}

type fakeGate struct {
	mu      sync.Mutex
	enabled bool
	sizes   []float64
}

func (g *fakeGate) IsEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

func (g *fakeGate) RecordTrade(size float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sizes = append(g.sizes, size)
}

type fixture struct {
	exec     *Executor
	client   *testutil.MockTradingClient
	risk     *risk.Manager
	store    *recordingStore
	notifier *recordingNotifier
	gate     *fakeGate
}

func entryPrices() map[string]float64 {
	return map[string]float64{"ETHBTC": 0.05, "ETHUSDT": 2600, "BTCUSDT": 50000}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	rm, err := risk.NewManager(risk.Config{
		Balance:         100000,
		RiskFraction:    0.01,
		DefaultStopLoss: 0.01,
		CapMultiplier:   3,
		Logger:          logger,
	})
	require.NoError(t, err)

	f := &fixture{
		client:   testutil.NewMockTradingClient(entryPrices()),
		risk:     rm,
		store:    &recordingStore{},
		notifier: &recordingNotifier{},
		gate:     &fakeGate{enabled: true},
	}

	f.exec, err = New(Config{
		Settings: DefaultSettings(),
		Risk:     rm,
		Store:    f.store,
		Notifier: f.notifier,
		Gate:     f.gate,
		UserID:   "operator-1",
		Logger:   logger,
	})
	require.NoError(t, err)
	f.exec.AddExchange("binance", f.client)

	return f
}

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	rm, _ := risk.NewManager(risk.Config{Balance: 1, RiskFraction: 0.01, DefaultStopLoss: 0.01, CapMultiplier: 3, Logger: logger})

	_, err := New(Config{Settings: DefaultSettings(), Risk: rm})
	assert.Error(t, err, "logger required")

	_, err = New(Config{Settings: DefaultSettings(), Logger: logger})
	assert.Error(t, err, "risk required")

	bad := DefaultSettings()
	bad.MaxConcurrent = 0
	_, err = New(Config{Settings: bad, Risk: rm, Logger: logger})
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestOpen_Success(t *testing.T) {
	f := newFixture(t)
	opp := testutil.CreateTestOpportunity("binance")

	res := f.exec.Open(context.Background(), "binance", opp, 50)
	require.True(t, res.Success, "unexpected error: %v", res.Error)
	assert.Equal(t, "mock-trade-1", res.TradeID)
	assert.Equal(t, 50.0, res.Size)

	pos, ok := f.exec.Position(res.PositionID)
	require.True(t, ok)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.Equal(t, entryPrices(), pos.EntryPrices)
	assert.Equal(t, []string{"BTC", "ETH", "USDT", "BTC"}, pos.Path)

	assert.InDelta(t, 50*0.01, f.risk.Exposure(), 1e-9, "size * stop-loss fraction is reserved")
	require.Len(t, f.store.added, 1)
	assert.Equal(t, "operator-1", f.store.added[0].UserID)
	assert.Equal(t, "mock-trade-1", f.store.added[0].TradeID)
	assert.Len(t, f.notifier.opened, 1)
	assert.Equal(t, []float64{50}, f.gate.sizes)
}

func TestOpen_ClampsSize(t *testing.T) {
	f := newFixture(t)
	opp := testutil.CreateTestOpportunity("binance")

	res := f.exec.Open(context.Background(), "binance", opp, 1000)
	require.True(t, res.Success)
	assert.Equal(t, 100.0, res.Size, "max position size caps the request")

	opp.Volume = 7
	res = f.exec.Open(context.Background(), "binance", opp, 1000)
	require.True(t, res.Success)
	assert.Equal(t, 7.0, res.Size, "opportunity volume caps the request")

	assert.Equal(t, []float64{100, 7}, f.client.Executed())
}

func TestOpen_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		ex      string
		size    float64
		wantErr error
	}{
		{
			name:    "trading disabled",
			setup:   func(f *fixture) { f.exec.EnableTrading(false) },
			ex:      "binance",
			size:    10,
			wantErr: ErrTradingDisabled,
		},
		{
			name:    "circuit breaker open",
			setup:   func(f *fixture) { f.gate.enabled = false },
			ex:      "binance",
			size:    10,
			wantErr: ErrTradingDisabled,
		},
		{
			name:    "unknown exchange",
			setup:   func(f *fixture) {},
			ex:      "kraken",
			size:    10,
			wantErr: ErrUnknownExchange,
		},
		{
			name:    "non-positive size",
			setup:   func(f *fixture) {},
			ex:      "binance",
			size:    0,
			wantErr: ErrInvalidSize,
		},
		{
			name:    "risk budget exhausted",
			setup:   func(f *fixture) { f.risk.RecordOpen("elsewhere", 300000, 0.01) },
			ex:      "binance",
			size:    10,
			wantErr: ErrRiskBudgetExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			res := f.exec.Open(context.Background(), tt.ex, testutil.CreateTestOpportunity("binance"), tt.size)
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Error, tt.wantErr)
			assert.Empty(t, f.client.Executed())
			assert.Empty(t, f.exec.Positions())
		})
	}
}

func TestOpen_NilOpportunity(t *testing.T) {
	f := newFixture(t)

	res := f.exec.Open(context.Background(), "binance", nil, 10)
	assert.False(t, res.Success)
	assert.Error(t, res.Error)
}

func TestOpen_MaxConcurrentPerExchange(t *testing.T) {
	f := newFixture(t)
	other := testutil.NewMockTradingClient(entryPrices())
	f.exec.AddExchange("kraken", other)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
		require.True(t, res.Success)
	}

	res := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	assert.ErrorIs(t, res.Error, ErrTooManyPositions)

	res = f.exec.Open(ctx, "kraken", testutil.CreateTestOpportunity("kraken"), 10)
	assert.True(t, res.Success, "limit is per exchange")
}

func TestOpen_ConcurrentCallersRespectLimit(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.client.ExecuteHook = func() { <-release }

	var wg sync.WaitGroup
	results := make(chan *OpenResult, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.exec.Open(context.Background(), "binance", testutil.CreateTestOpportunity("binance"), 10)
		}()
	}

	// Pending positions hold their slot while the exchange call is in flight.
	require.Eventually(t, func() bool {
		return len(f.exec.Positions()) == 3
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	ok := 0
	for r := range results {
		if r.Success {
			ok++
		} else {
			assert.ErrorIs(t, r.Error, ErrTooManyPositions)
		}
	}
	assert.Equal(t, 3, ok)
}

func TestOpen_DryRun(t *testing.T) {
	f := newFixture(t)
	f.exec.SetDryRun(true)

	res := f.exec.Open(context.Background(), "binance", testutil.CreateTestOpportunity("binance"), 10)
	require.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Contains(t, res.TradeID, "dry-run-")

	assert.Empty(t, f.client.Executed(), "dry run never contacts the exchange")
	assert.Empty(t, f.exec.Positions())
	assert.Zero(t, f.risk.Exposure())
}

func TestOpen_ExchangeFailure(t *testing.T) {
	f := newFixture(t)
	f.client.ExecuteErr = errors.New("insufficient balance")

	res := f.exec.Open(context.Background(), "binance", testutil.CreateTestOpportunity("binance"), 10)
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Error, "insufficient balance")

	pos, ok := f.exec.Position(res.PositionID)
	require.True(t, ok, "failed positions are retained")
	assert.Equal(t, StatusFailed, pos.Status)
	assert.Equal(t, "insufficient balance", pos.Error)

	assert.Zero(t, f.risk.Exposure(), "reservation released")
	assert.Empty(t, f.store.added)

	// A failed position does not hold a slot.
	f.client.ExecuteErr = nil
	for i := 0; i < 3; i++ {
		assert.True(t, f.exec.Open(context.Background(), "binance", testutil.CreateTestOpportunity("binance"), 10).Success)
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	f.client.CloseProfit = 1.25
	ctx := context.Background()

	opened := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	require.True(t, opened.Success)

	res := f.exec.Close(ctx, opened.PositionID, ReasonManual)
	require.True(t, res.Success)
	assert.Equal(t, 1.25, res.RealizedProfit)

	pos, _ := f.exec.Position(opened.PositionID)
	assert.Equal(t, StatusClosed, pos.Status)
	assert.Equal(t, ReasonManual, pos.CloseReason)
	assert.False(t, pos.ClosedAt.IsZero())

	assert.Zero(t, f.risk.Exposure())
	assert.Equal(t, 1.25, f.store.closed[opened.TradeID])
	assert.Len(t, f.notifier.closed, 1, "notifier errors do not fail the close")
}

func TestClose_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.exec.Close(ctx, "no-such-position", ReasonManual)
	assert.True(t, res.NotFound)
	assert.NoError(t, res.Error)

	opened := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	require.True(t, f.exec.Close(ctx, opened.PositionID, ReasonManual).Success)

	again := f.exec.Close(ctx, opened.PositionID, ReasonManual)
	assert.True(t, again.NotFound)
	assert.NoError(t, again.Error)
	assert.Len(t, f.client.Closed(), 1)
}

func TestClose_ExchangeFailureKeepsPositionOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	f.client.SetCloseErr(errors.New("rate limited"))

	res := f.exec.Close(ctx, opened.PositionID, ReasonManual)
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Error, "rate limited")

	pos, _ := f.exec.Position(opened.PositionID)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.NotZero(t, f.risk.Exposure())

	f.client.SetCloseErr(nil)
	assert.True(t, f.exec.Close(ctx, opened.PositionID, ReasonManual).Success)
}

func TestMonitor_TakeProfitAndStopLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	require.True(t, opened.Success)

	// Within band: nothing happens.
	f.client.SetPrice("ETHUSDT", 2600*1.01)
	f.exec.Monitor(ctx)
	pos, _ := f.exec.Position(opened.PositionID)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.InDelta(t, 1.0, pos.LastPnL, 1e-9)

	// ETHUSDT is a forward leg: +3% on it is +3% on the cycle.
	f.client.SetPrice("ETHUSDT", 2600*1.03)
	f.exec.Monitor(ctx)
	pos, _ = f.exec.Position(opened.PositionID)
	assert.Equal(t, StatusClosed, pos.Status)
	assert.Equal(t, ReasonTakeProfit, pos.CloseReason)

	// BTCUSDT is inverted: BTC up 1% costs 1/1.01 on the cycle.
	f.client.SetPrice("ETHUSDT", 2600)
	second := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	f.client.SetPrice("BTCUSDT", 50000*1.011)
	f.exec.Monitor(ctx)
	pos, _ = f.exec.Position(second.PositionID)
	assert.Equal(t, StatusClosed, pos.Status)
	assert.Equal(t, ReasonStopLoss, pos.CloseReason)
}

func TestMonitor_MissingPriceSkipsOnlyThatPosition(t *testing.T) {
	f := newFixture(t)
	other := testutil.NewMockTradingClient(map[string]float64{"ETHUSDT": 2600, "BTCUSDT": 50000})
	f.exec.AddExchange("kraken", other)
	ctx := context.Background()

	skipped := f.exec.Open(ctx, "kraken", testutil.CreateTestOpportunity("kraken"), 10)
	closing := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	require.True(t, skipped.Success)
	require.True(t, closing.Success)

	other.SetPrice("ETHUSDT", 2600*1.05)
	f.client.SetPrice("ETHUSDT", 2600*1.05)
	f.exec.Monitor(ctx)

	pos, _ := f.exec.Position(skipped.PositionID)
	assert.Equal(t, StatusOpen, pos.Status, "ETHBTC has no price on kraken")

	pos, _ = f.exec.Position(closing.PositionID)
	assert.Equal(t, StatusClosed, pos.Status)
}

func TestMonitor_PriceErrorIsTolerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	f.client.PricesErr = errors.New("timeout")

	f.exec.Monitor(ctx)

	pos, _ := f.exec.Position(opened.PositionID)
	assert.Equal(t, StatusOpen, pos.Status)
}

func TestStart_RunsMonitorUntilCancelled(t *testing.T) {
	f := newFixture(t)
	f.exec.monitorInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	opened := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	f.client.SetPrice("ETHUSDT", 2600*1.03)

	f.exec.Start(ctx)
	require.Eventually(t, func() bool {
		pos, _ := f.exec.Position(opened.PositionID)
		return pos.Status == StatusClosed
	}, time.Second, 5*time.Millisecond)

	cancel()
	f.exec.Wait()
}

func TestOpenPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	f.exec.Open(ctx, "binance", testutil.CreateTestOpportunity("binance"), 10)
	f.exec.Close(ctx, a.PositionID, ReasonManual)

	assert.Len(t, f.exec.Positions(), 2)
	assert.Len(t, f.exec.OpenPositions(), 1)
}
