package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mselser95/triarb/internal/market"
	"github.com/mselser95/triarb/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingInvalidator struct {
	calls atomic.Int32
}

func (c *countingInvalidator) Invalidate() { c.calls.Add(1) }

func newService(t *testing.T, src *testutil.StaticSource, inv Invalidator) *Service {
	t.Helper()
	svc, err := New(&Config{
		Lister:       src,
		Invalidator:  inv,
		PollInterval: time.Minute,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return svc
}

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	src := testutil.NewTriangleSource("disc-validate")

	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil-lister", cfg: &Config{PollInterval: time.Minute, Logger: logger}},
		{name: "zero-interval", cfg: &Config{Lister: src, Logger: logger}},
		{name: "nil-logger", cfg: &Config{Lister: src, PollInterval: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestPoll_BaselineThenChanges(t *testing.T) {
	src := testutil.NewTriangleSource("disc-changes")
	inv := &countingInvalidator{}
	svc := newService(t, src, inv)

	change, err := svc.Poll(t.Context())
	require.NoError(t, err)
	assert.True(t, change.Empty(), "first poll only sets the baseline")
	assert.Equal(t, int32(0), inv.calls.Load())
	assert.Len(t, svc.Known(), 3)
	assert.InDelta(t, 3.0, promtest.ToFloat64(PairsTracked.WithLabelValues("disc-changes")), 1e-9)

	change, err = svc.Poll(t.Context())
	require.NoError(t, err)
	assert.True(t, change.Empty())
	assert.Equal(t, int32(0), inv.calls.Load(), "unchanged listing keeps the cache")

	src.SetPairs([]market.Pair{
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		{Symbol: "BNBUSDT", Base: "BNB", Quote: "USDT"},
		{Symbol: "BNBBTC", Base: "BNB", Quote: "BTC"},
	})

	listed := promtest.ToFloat64(PairsListedTotal.WithLabelValues("disc-changes"))
	delisted := promtest.ToFloat64(PairsDelistedTotal.WithLabelValues("disc-changes"))

	change, err = svc.Poll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"BNBBTC", "BNBUSDT"}, symbols(change.Listed))
	assert.Equal(t, []string{"ETHUSDT"}, symbols(change.Delisted))
	assert.Equal(t, int32(1), inv.calls.Load())
	assert.InDelta(t, 2.0, promtest.ToFloat64(PairsListedTotal.WithLabelValues("disc-changes"))-listed, 1e-9)
	assert.InDelta(t, 1.0, promtest.ToFloat64(PairsDelistedTotal.WithLabelValues("disc-changes"))-delisted, 1e-9)

	known := svc.Known()
	require.Len(t, known, 4)
	assert.Equal(t, "BNBBTC", known[0].Symbol, "sorted by symbol")

	p, ok := svc.Pair("bnbusdt")
	require.True(t, ok)
	assert.Equal(t, "BNB", p.Base)
	_, ok = svc.Pair("ETHUSDT")
	assert.False(t, ok)
}

func TestPoll_ErrorKeepsListing(t *testing.T) {
	src := testutil.NewTriangleSource("disc-error")
	svc := newService(t, src, nil)

	_, err := svc.Poll(t.Context())
	require.NoError(t, err)

	pollErrors := promtest.ToFloat64(PollErrorsTotal.WithLabelValues("disc-error"))
	src.SetError(errors.New("exchange down"))
	_, err = svc.Poll(t.Context())
	require.Error(t, err)
	assert.Len(t, svc.Known(), 3)
	assert.InDelta(t, 1.0, promtest.ToFloat64(PollErrorsTotal.WithLabelValues("disc-error"))-pollErrors, 1e-9)
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	src := testutil.NewTriangleSource("disc-run")
	svc, err := New(&Config{
		Lister:       src,
		PollInterval: 10 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return src.PairCalls() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Len(t, svc.Known(), 3)
}
