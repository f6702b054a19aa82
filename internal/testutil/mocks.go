package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/mselser95/triarb/internal/arbitrage"
)

// BinanceSymbol is one entry of the mocked /api/v3/exchangeInfo response.
type BinanceSymbol struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// BinanceTicker is one entry of the mocked /api/v3/ticker/24hr response.
type BinanceTicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	HighPrice   string `json:"highPrice"`
	LowPrice    string `json:"lowPrice"`
	QuoteVolume string `json:"quoteVolume"`
}

// MockBinanceAPI is an httptest server that serves the Binance public and
// signed endpoints the exchange client uses.
type MockBinanceAPI struct {
	*httptest.Server

	mu       sync.RWMutex
	Symbols  []BinanceSymbol
	Tickers  []BinanceTicker
	Balances map[string]string
	Orders   []map[string]string
	FailWith int // when non-zero every request returns this status
}

// NewMockBinanceAPI starts a mock Binance REST API.
func NewMockBinanceAPI(symbols []BinanceSymbol, tickers []BinanceTicker) *MockBinanceAPI {
	mock := &MockBinanceAPI{
		Symbols:  symbols,
		Tickers:  tickers,
		Balances: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		if mock.failed(w) {
			return
		}
		mock.mu.RLock()
		defer mock.mu.RUnlock()
		writeJSON(w, map[string]interface{}{"symbols": mock.Symbols})
	})
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		if mock.failed(w) {
			return
		}
		mock.mu.RLock()
		defer mock.mu.RUnlock()
		writeJSON(w, mock.Tickers)
	})
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		if mock.failed(w) || !signed(w, r) {
			return
		}
		mock.mu.RLock()
		defer mock.mu.RUnlock()

		balances := make([]map[string]string, 0, len(mock.Balances))
		for asset, free := range mock.Balances {
			balances = append(balances, map[string]string{"asset": asset, "free": free, "locked": "0"})
		}
		writeJSON(w, map[string]interface{}{"balances": balances})
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		if mock.failed(w) || !signed(w, r) {
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		order := map[string]string{}
		for k := range r.Form {
			order[k] = r.Form.Get(k)
		}

		mock.mu.Lock()
		mock.Orders = append(mock.Orders, order)
		orderID := len(mock.Orders)
		mock.mu.Unlock()

		qty := order["quantity"]
		if qty == "" {
			qty = order["quoteOrderQty"]
		}
		writeJSON(w, map[string]interface{}{
			"symbol":              order["symbol"],
			"orderId":             orderID,
			"status":              "FILLED",
			"executedQty":         qty,
			"cummulativeQuoteQty": qty,
		})
	})

	mock.Server = httptest.NewServer(mux)
	return mock
}

func (m *MockBinanceAPI) failed(w http.ResponseWriter) bool {
	m.mu.RLock()
	status := m.FailWith
	m.mu.RUnlock()
	if status == 0 {
		return false
	}
	http.Error(w, `{"code":-1003,"msg":"mock failure"}`, status)
	return true
}

// SetFailure makes every subsequent request fail with status (0 clears it).
func (m *MockBinanceAPI) SetFailure(status int) {
	m.mu.Lock()
	m.FailWith = status
	m.mu.Unlock()
}

// SetTickerPrice replaces the last price of symbol.
func (m *MockBinanceAPI) SetTickerPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Tickers {
		if m.Tickers[i].Symbol == symbol {
			m.Tickers[i].LastPrice = strconv.FormatFloat(price, 'f', -1, 64)
		}
	}
}

// PlacedOrders returns a copy of the orders received so far.
func (m *MockBinanceAPI) PlacedOrders() []map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]map[string]string(nil), m.Orders...)
}

func signed(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-MBX-APIKEY") == "" || r.URL.Query().Get("signature") == "" {
		http.Error(w, `{"code":-2015,"msg":"unsigned request"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// MockStorage is an in-memory opportunity store.
type MockStorage struct {
	mu            sync.Mutex
	Opportunities []*arbitrage.Opportunity
}

// NewMockStorage creates a new mock storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

// StoreOpportunity stores an opportunity in memory.
func (m *MockStorage) StoreOpportunity(_ context.Context, opp *arbitrage.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Opportunities = append(m.Opportunities, opp)
	return nil
}

// Count returns the number of stored opportunities.
func (m *MockStorage) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Opportunities)
}
