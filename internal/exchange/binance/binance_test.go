package binance

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/market"
	"github.com/mselser95/triarb/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockAPI(t *testing.T) *testutil.MockBinanceAPI {
	t.Helper()
	api := testutil.NewMockBinanceAPI(
		[]testutil.BinanceSymbol{
			{Symbol: "ETHBTC", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "BTC"},
			{Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT"},
			{Symbol: "ETHUSDT", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "USDT"},
			{Symbol: "LUNAUSDT", Status: "BREAK", BaseAsset: "LUNA", QuoteAsset: "USDT"},
		},
		[]testutil.BinanceTicker{
			{Symbol: "ETHBTC", LastPrice: "0.05", HighPrice: "0.0502", LowPrice: "0.0499", QuoteVolume: "20000"},
			{Symbol: "BTCUSDT", LastPrice: "50000", HighPrice: "50200", LowPrice: "49950", QuoteVolume: "900000"},
			{Symbol: "ETHUSDT", LastPrice: "2600", HighPrice: "2610", LowPrice: "2597", QuoteVolume: "500000"},
			{Symbol: "BADUSDT", LastPrice: "n/a", HighPrice: "1", LowPrice: "1", QuoteVolume: "1"},
		},
	)
	t.Cleanup(api.Close)
	return api
}

func newClient(t *testing.T, api *testutil.MockBinanceAPI, withKeys bool) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:   api.URL,
		TickerTTL: time.Nanosecond,
		Logger:    zaptest.NewLogger(t),
	}
	if withKeys {
		cfg.APIKey = "key"
		cfg.APISecret = "secret"
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://x"})
	assert.Error(t, err)

	_, err = NewClient(Config{Logger: zaptest.NewLogger(t)})
	assert.Error(t, err)
}

func TestSign_KnownVector(t *testing.T) {
	c := &Client{apiSecret: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"}
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"

	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", c.sign(payload))
}

func TestPairs_TradingOnly(t *testing.T) {
	c := newClient(t, newMockAPI(t), false)

	pairs, err := c.Pairs(context.Background())
	require.NoError(t, err)
	assert.Len(t, pairs, 3)
	assert.Contains(t, pairs, market.Pair{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"})
	for _, p := range pairs {
		assert.NotEqual(t, "LUNAUSDT", p.Symbol)
	}
}

func TestPricesAndVolumes(t *testing.T) {
	c := newClient(t, newMockAPI(t), false)
	ctx := context.Background()

	prices, err := c.Prices(ctx)
	require.NoError(t, err)
	assert.Len(t, prices, 3, "unparseable tickers are skipped")
	assert.Equal(t, 2600.0, prices["ETHUSDT"].Price)
	assert.InDelta(t, 0.5, prices["ETHUSDT"].Volatility, 1e-9, "(2610-2597)/2600*100")

	volumes, err := c.Volumes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20000.0, volumes["ETHBTC"])
}

func TestLoadGraph_FindsCycle(t *testing.T) {
	c := newClient(t, newMockAPI(t), false)

	g, err := market.LoadGraph(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, Name, g.Exchange())
	assert.Equal(t, 3, g.EdgeCount())

	p, ok := g.Price("BTC", "ETH")
	require.True(t, ok)
	assert.InDelta(t, 20, p, 1e-9)
}

func TestTickers_Memoized(t *testing.T) {
	api := newMockAPI(t)
	c := newClient(t, api, false)
	c.tickers.ttl = time.Hour
	ctx := context.Background()

	first, err := c.Tickers(ctx)
	require.NoError(t, err)

	api.SetTickerPrice("ETHUSDT", 3000)
	second, err := c.Tickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, first["ETHUSDT"].Last, second["ETHUSDT"].Last)

	c.tickers.ttl = time.Nanosecond
	third, err := c.Tickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3000.0, third["ETHUSDT"].Last)
}

func TestAPIError(t *testing.T) {
	api := newMockAPI(t)
	c := newClient(t, api, false)
	api.SetFailure(http.StatusTooManyRequests)

	_, err := c.Pairs(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, -1003, apiErr.Code)
	assert.Equal(t, "mock failure", apiErr.Message)
}

func TestSignedCallsNeedCredentials(t *testing.T) {
	api := newMockAPI(t)
	c := newClient(t, api, false)

	_, err := c.Balance(context.Background(), "USDT")
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestGetBalance(t *testing.T) {
	api := newMockAPI(t)
	api.Balances["USDT"] = "1234.5"
	api.Balances["BTC"] = "0.1"
	trader := NewTrader(newClient(t, api, true), "USDT")

	bal, err := trader.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1234.5, bal)

	bal, err = trader.client.Balance(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestExecuteAndCloseCycle(t *testing.T) {
	api := newMockAPI(t)
	trader := NewTrader(newClient(t, api, true), "USDT")
	opp := testutil.CreateTestOpportunity(Name)
	ctx := context.Background()

	id, err := trader.ExecuteArbitrageTrade(ctx, opp.Hops, 0.5)
	require.NoError(t, err)

	orders := api.PlacedOrders()
	require.Len(t, orders, 3)

	// BTC -> ETH against ETHBTC: buy ETH spending BTC.
	assert.Equal(t, "ETHBTC", orders[0]["symbol"])
	assert.Equal(t, "BUY", orders[0]["side"])
	assert.Equal(t, "0.5", orders[0]["quoteOrderQty"])
	assert.Equal(t, "MARKET", orders[0]["type"])
	assert.NotEmpty(t, orders[0]["timestamp"])

	// ETH -> USDT along ETHUSDT: sell ETH.
	assert.Equal(t, "SELL", orders[1]["side"])
	assert.Equal(t, "0.5", orders[1]["quantity"])

	assert.Equal(t, "BTCUSDT", orders[2]["symbol"])
	assert.Equal(t, "BUY", orders[2]["side"])

	fills, ok := trader.Fills(id)
	require.True(t, ok)
	assert.Len(t, fills, 3)

	// Profit comes from the recorded fills; the mock fills 1:1, so the cycle
	// ends where it started and no balance is read on close.
	placed := len(api.PlacedOrders())
	profit, err := trader.CloseArbitrageTrade(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, fills[2].Received-0.5, profit, 1e-12)
	assert.InDelta(t, 0, profit, 1e-12)
	assert.Len(t, api.PlacedOrders(), placed, "closing a completed cycle places no orders")

	_, err = trader.CloseArbitrageTrade(ctx, id)
	assert.Error(t, err)
}

func TestExecute_FailedLeg(t *testing.T) {
	api := newMockAPI(t)
	trader := NewTrader(newClient(t, api, true), "USDT")
	api.SetFailure(http.StatusBadRequest)

	_, err := trader.ExecuteArbitrageTrade(context.Background(), testutil.CreateTestOpportunity(Name).Hops, 1)
	assert.ErrorContains(t, err, "leg 1 ETHBTC")
}

func TestGetCurrentPrices(t *testing.T) {
	api := newMockAPI(t)
	trader := NewTrader(newClient(t, api, false), "USDT")

	prices, err := trader.GetCurrentPrices(context.Background(), []string{"ETHBTC", "BTCUSDT", "XRPUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ETHBTC": 0.05, "BTCUSDT": 50000}, prices)
}

func TestFormatQty(t *testing.T) {
	assert.Equal(t, "0.12345678", formatQty(0.123456789))
	assert.Equal(t, "10", formatQty(10))
}

func TestVolatility(t *testing.T) {
	assert.Zero(t, Ticker{}.Volatility())
	assert.InDelta(t, 2, Ticker{Last: 100, High: 101, Low: 99}.Volatility(), 1e-9)
}

func TestImplementsInterfaces(t *testing.T) {
	var _ market.Source = (*Client)(nil)
	var _ interface {
		ExecuteArbitrageTrade(context.Context, []arbitrage.Hop, float64) (string, error)
		GetCurrentPrices(context.Context, []string) (map[string]float64, error)
		CloseArbitrageTrade(context.Context, string) (float64, error)
		GetBalance(context.Context) (float64, error)
	} = (*Trader)(nil)
}
