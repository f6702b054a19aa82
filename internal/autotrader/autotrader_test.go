package autotrader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/execution"
	"github.com/mselser95/triarb/internal/risk"
	"github.com/mselser95/triarb/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type stubFeed struct {
	mu    sync.Mutex
	opps  map[string][]*arbitrage.Opportunity
	calls int
	panic bool
}

func (f *stubFeed) Opportunities(_ context.Context, exchange string) []*arbitrage.Opportunity {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("feed exploded")
	}
	return f.opps[exchange]
}

func (f *stubFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type openCall struct {
	exchange string
	oppID    string
	size     float64
}

type stubExecutor struct {
	mu       sync.Mutex
	settings execution.Settings
	calls    []openCall
	fail     bool
	block    chan struct{}
	entered  chan struct{}
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{settings: execution.DefaultSettings()}
}

func (e *stubExecutor) Open(_ context.Context, exchange string, opp *arbitrage.Opportunity, size float64) *execution.OpenResult {
	if e.entered != nil {
		e.entered <- struct{}{}
	}
	if e.block != nil {
		<-e.block
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, openCall{exchange: exchange, oppID: opp.ID, size: size})
	if e.fail {
		return &execution.OpenResult{Exchange: exchange, Error: execution.ErrTooManyPositions}
	}
	return &execution.OpenResult{Exchange: exchange, PositionID: "pos-" + opp.ID, Size: size, Success: true}
}

func (e *stubExecutor) Settings() execution.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *stubExecutor) Calls() []openCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]openCall(nil), e.calls...)
}

func newRisk(t *testing.T) *risk.Manager {
	t.Helper()
	rm, err := risk.NewManager(risk.Config{
		Balance:         1000,
		RiskFraction:    0.01,
		DefaultStopLoss: 0.01,
		CapMultiplier:   3,
		Logger:          zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return rm
}

func defaultConfig() Config {
	return Config{
		Exchanges:        []string{"binance"},
		TradingInterval:  time.Hour,
		MinProfitPercent: 0.5,
		MaxTradeVolume:   1e6,
	}
}

// opportunity builds a candidate whose cycle path is unique to id.
func opportunity(id string, profit, volume float64) *arbitrage.Opportunity {
	opp := testutil.CreateTestOpportunity("binance")
	opp.ID = id
	opp.Path = []string{"BTC", id, "USDT", "BTC"}
	opp.ProfitPercent = profit
	opp.Volume = volume
	return opp
}

func newTrader(t *testing.T, feed Feed, rm Risk, exec Executor) *Trader {
	t.Helper()
	tr, err := New(Options{
		Config:   defaultConfig(),
		Feed:     feed,
		Risk:     rm,
		Executor: exec,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return tr
}

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := New(Options{Config: defaultConfig(), Feed: &stubFeed{}, Risk: newRisk(t), Executor: newStubExecutor()})
	assert.Error(t, err)

	_, err = New(Options{Config: defaultConfig(), Logger: logger})
	assert.Error(t, err)

	cfg := defaultConfig()
	cfg.TradingInterval = 0
	_, err = New(Options{Config: cfg, Feed: &stubFeed{}, Risk: newRisk(t), Executor: newStubExecutor(), Logger: logger})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExecuteCycle_Filters(t *testing.T) {
	feed := &stubFeed{opps: map[string][]*arbitrage.Opportunity{
		"binance": {
			opportunity("good", 4, 20000),
			opportunity("thin", 0.2, 20000),
			opportunity("at-min", 0.5, 20000),
			opportunity("huge", 4, 2e6),
		},
	}}
	exec := newStubExecutor()
	tr := newTrader(t, feed, newRisk(t), exec)

	require.True(t, tr.ExecuteCycle(context.Background()))

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "good", calls[0].oppID)
	assert.Equal(t, "at-min", calls[1].oppID, "profit equal to the minimum is admitted")

	// 1000 * 1% / 1% stop-loss.
	assert.InDelta(t, 1000, calls[0].size, 1e-9)
	assert.Equal(t, "binance", calls[0].exchange)
}

func TestExecuteCycle_RiskBudgetRejects(t *testing.T) {
	feed := &stubFeed{opps: map[string][]*arbitrage.Opportunity{
		"binance": {opportunity("a", 4, 20000)},
	}}
	rm := newRisk(t)
	// Cap is 1000*0.01*3 = 30; 25 is taken and the candidate needs 10.
	rm.RecordOpen("existing", 2500, 0.01)

	exec := newStubExecutor()
	tr := newTrader(t, feed, rm, exec)

	tr.ExecuteCycle(context.Background())
	assert.Empty(t, exec.Calls())

	rm.RecordClose("existing")
	tr.ExecuteCycle(context.Background())
	assert.Len(t, exec.Calls(), 1)
}

func TestExecuteCycle_UsesExecutorStopLoss(t *testing.T) {
	feed := &stubFeed{opps: map[string][]*arbitrage.Opportunity{
		"binance": {opportunity("a", 4, 20000)},
	}}
	exec := newStubExecutor()
	exec.settings.StopLossPercent = 2
	tr := newTrader(t, feed, newRisk(t), exec)

	tr.ExecuteCycle(context.Background())

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 500, calls[0].size, 1e-9)
}

func TestExecuteCycle_ContinuesAfterOpenFailure(t *testing.T) {
	feed := &stubFeed{opps: map[string][]*arbitrage.Opportunity{
		"binance": {opportunity("a", 4, 20000), opportunity("b", 3, 20000)},
		"kraken":  {opportunity("c", 2, 20000)},
	}}
	exec := newStubExecutor()
	exec.fail = true
	tr := newTrader(t, feed, newRisk(t), exec)
	_, err := tr.UpdateConfig(ConfigUpdate{Exchanges: []string{"binance", "kraken"}})
	require.NoError(t, err)

	assert.True(t, tr.ExecuteCycle(context.Background()))
	assert.Len(t, exec.Calls(), 3)
}

func TestExecuteCycle_SkipsWhileRunning(t *testing.T) {
	feed := &stubFeed{opps: map[string][]*arbitrage.Opportunity{
		"binance": {opportunity("a", 4, 20000)},
	}}
	exec := newStubExecutor()
	exec.block = make(chan struct{})
	exec.entered = make(chan struct{}, 1)

	core, logs := observer.New(zapcore.InfoLevel)
	tr, err := New(Options{
		Config:   defaultConfig(),
		Feed:     feed,
		Risk:     newRisk(t),
		Executor: exec,
		Logger:   zap.New(core),
	})
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- tr.ExecuteCycle(context.Background()) }()
	<-exec.entered

	assert.False(t, tr.ExecuteCycle(context.Background()), "overlapping cycle is skipped")
	assert.Equal(t, 1, feed.Calls())

	close(exec.block)
	assert.True(t, <-done)
	assert.Len(t, exec.Calls(), 1)

	assert.Equal(t, 1, logs.FilterMessage("autotrader-cycle-started").Len(), "only the cycle that ran logs its start")
	skipped := logs.FilterMessage("autotrader-cycle-skipped").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "cycle-in-progress", skipped[0].ContextMap()["reason"])
}

// onceRefresher reports each batch once, like a scanner that only sees an
// opportunity while the prices that produced it last.
type onceRefresher struct {
	mu      sync.Mutex
	batches [][]*arbitrage.Opportunity
}

func (r *onceRefresher) Scan(_ context.Context, _ string) ([]*arbitrage.Opportunity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil, nil
	}
	next := r.batches[0]
	r.batches = r.batches[1:]
	return next, nil
}

func TestExecuteCycle_DoesNotReopenCachedOpportunity(t *testing.T) {
	rescan := opportunity("opp-1-rescan", 4.2, 20000)
	rescan.Path = opportunity("opp-1", 4, 20000).Path

	refresher := &onceRefresher{batches: [][]*arbitrage.Opportunity{
		{opportunity("opp-1", 4, 20000)},
		nil,
		{rescan, opportunity("opp-2", 3, 20000)},
	}}
	cache := arbitrage.NewCache(arbitrage.CacheConfig{
		Refresher: refresher,
		Horizon:   300 * time.Second,
		Capacity:  10,
		Logger:    zaptest.NewLogger(t),
	})
	exec := newStubExecutor()
	tr := newTrader(t, cache, newRisk(t), exec)

	for range 4 {
		require.True(t, tr.ExecuteCycle(context.Background()))
	}

	calls := exec.Calls()
	require.Len(t, calls, 2, "each cycle path is opened once while it stays cached")
	assert.Equal(t, "opp-1", calls[0].oppID)
	assert.Equal(t, "opp-2", calls[1].oppID, "a rescan of an opened path under a new ID is skipped")
	assert.Len(t, cache.List("binance"), 3)
}

func TestExecuteCycle_FailedOpenIsRetried(t *testing.T) {
	feed := &stubFeed{opps: map[string][]*arbitrage.Opportunity{
		"binance": {opportunity("a", 4, 20000)},
	}}
	exec := newStubExecutor()
	exec.fail = true
	tr := newTrader(t, feed, newRisk(t), exec)

	tr.ExecuteCycle(context.Background())
	exec.mu.Lock()
	exec.fail = false
	exec.mu.Unlock()
	tr.ExecuteCycle(context.Background())
	tr.ExecuteCycle(context.Background())

	assert.Len(t, exec.Calls(), 2, "a failed open leaves the opportunity eligible, a successful one does not")
}

func TestExecuteCycle_ForgetsOpportunitiesNoLongerRanked(t *testing.T) {
	a := opportunity("a", 4, 20000)
	feed := &stubFeed{opps: map[string][]*arbitrage.Opportunity{"binance": {a}}}
	exec := newStubExecutor()
	tr := newTrader(t, feed, newRisk(t), exec)

	tr.ExecuteCycle(context.Background())

	feed.mu.Lock()
	feed.opps["binance"] = nil
	feed.mu.Unlock()
	tr.ExecuteCycle(context.Background())
	assert.Empty(t, tr.executed["binance"])

	feed.mu.Lock()
	feed.opps["binance"] = []*arbitrage.Opportunity{a}
	feed.mu.Unlock()
	tr.ExecuteCycle(context.Background())

	assert.Len(t, exec.Calls(), 2)
}

func TestExecuteCycle_SizeCappedByVolumeBeforeRiskCheck(t *testing.T) {
	feed := &stubFeed{opps: map[string][]*arbitrage.Opportunity{
		"binance": {opportunity("thin-book", 4, 300)},
	}}
	rm := newRisk(t)
	// Cap is 30 and 25 is taken: a 1000 unit position needs 10, a 300 unit one needs 3.
	rm.RecordOpen("existing", 2500, 0.01)

	exec := newStubExecutor()
	tr := newTrader(t, feed, rm, exec)

	tr.ExecuteCycle(context.Background())

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 300, calls[0].size, 1e-9)
}

func TestExecuteCycle_RecoversPanic(t *testing.T) {
	feed := &stubFeed{panic: true}
	exec := newStubExecutor()
	tr := newTrader(t, feed, newRisk(t), exec)

	assert.NotPanics(t, func() { tr.ExecuteCycle(context.Background()) })

	feed.mu.Lock()
	feed.panic = false
	feed.opps = map[string][]*arbitrage.Opportunity{"binance": {opportunity("a", 4, 20000)}}
	feed.mu.Unlock()

	assert.True(t, tr.ExecuteCycle(context.Background()), "lock released after panic")
	assert.Len(t, exec.Calls(), 1)
}

func TestUpdateConfig(t *testing.T) {
	tr := newTrader(t, &stubFeed{}, newRisk(t), newStubExecutor())

	interval := 5 * time.Second
	profit := 1.5
	cfg, err := tr.UpdateConfig(ConfigUpdate{TradingInterval: &interval, MinProfitPercent: &profit})
	require.NoError(t, err)
	assert.Equal(t, interval, cfg.TradingInterval)
	assert.Equal(t, 1.5, cfg.MinProfitPercent)
	assert.Equal(t, 1e6, cfg.MaxTradeVolume, "unset fields are kept")
	assert.Equal(t, cfg, tr.Config())

	before := tr.Config()
	bad := -1.0
	zero := time.Duration(0)
	_, err = tr.UpdateConfig(ConfigUpdate{MinProfitPercent: &profit, MaxTradeVolume: &bad})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = tr.UpdateConfig(ConfigUpdate{TradingInterval: &zero})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = tr.UpdateConfig(ConfigUpdate{Exchanges: []string{}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, before, tr.Config(), "rejected update leaves config unchanged")
}

func TestConfigIsCopied(t *testing.T) {
	tr := newTrader(t, &stubFeed{}, newRisk(t), newStubExecutor())

	cfg := tr.Config()
	cfg.Exchanges[0] = "mutated"
	assert.Equal(t, []string{"binance"}, tr.Config().Exchanges)
}

func TestStartStop(t *testing.T) {
	feed := &stubFeed{}
	tr := newTrader(t, feed, newRisk(t), newStubExecutor())
	interval := 10 * time.Millisecond
	_, err := tr.UpdateConfig(ConfigUpdate{TradingInterval: &interval})
	require.NoError(t, err)

	tr.Start(context.Background())
	tr.Start(context.Background())
	assert.True(t, tr.Running())

	require.Eventually(t, func() bool { return feed.Calls() >= 3 }, time.Second, 5*time.Millisecond)

	tr.Stop()
	tr.Wait()
	assert.False(t, tr.Running())

	calls := feed.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, feed.Calls(), "no ticks after stop")
}

func TestStart_CancelledContext(t *testing.T) {
	feed := &stubFeed{}
	tr := newTrader(t, feed, newRisk(t), newStubExecutor())
	ctx, cancel := context.WithCancel(context.Background())

	tr.Start(ctx)
	require.Eventually(t, func() bool { return feed.Calls() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	tr.Wait()
	assert.False(t, tr.Running())
}

func TestStart_IntervalChangeAppliesNextTick(t *testing.T) {
	feed := &stubFeed{}
	tr := newTrader(t, feed, newRisk(t), newStubExecutor())
	interval := 10 * time.Millisecond
	_, err := tr.UpdateConfig(ConfigUpdate{TradingInterval: &interval})
	require.NoError(t, err)

	tr.Start(context.Background())
	defer func() {
		tr.Stop()
		tr.Wait()
	}()
	require.Eventually(t, func() bool { return feed.Calls() >= 2 }, time.Second, 5*time.Millisecond)

	long := time.Hour
	_, err = tr.UpdateConfig(ConfigUpdate{TradingInterval: &long})
	require.NoError(t, err)

	// At most one more tick armed with the old interval.
	time.Sleep(30 * time.Millisecond)
	settled := feed.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, feed.Calls())
}
