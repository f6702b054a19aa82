package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/mselser95/triarb/internal/arbitrage"
)

// MockTradingClient is a scriptable exchange trading client.
type MockTradingClient struct {
	mu sync.Mutex

	Prices      map[string]float64
	ExecuteErr  error
	PricesErr   error
	CloseErr    error
	CloseProfit float64

	// ExecuteHook runs inside ExecuteArbitrageTrade before it returns, e.g. to block.
	ExecuteHook func()

	executed []float64
	closed   []string
	seq      int
}

// NewMockTradingClient creates a client that fills everything.
func NewMockTradingClient(prices map[string]float64) *MockTradingClient {
	return &MockTradingClient{Prices: prices}
}

// ExecuteArbitrageTrade implements execution.TradingClient.
func (m *MockTradingClient) ExecuteArbitrageTrade(_ context.Context, _ []arbitrage.Hop, size float64) (string, error) {
	if m.ExecuteHook != nil {
		m.ExecuteHook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ExecuteErr != nil {
		return "", m.ExecuteErr
	}
	m.seq++
	m.executed = append(m.executed, size)
	return fmt.Sprintf("mock-trade-%d", m.seq), nil
}

// GetCurrentPrices implements execution.TradingClient.
func (m *MockTradingClient) GetCurrentPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PricesErr != nil {
		return nil, m.PricesErr
	}
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := m.Prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

// CloseArbitrageTrade implements execution.TradingClient.
func (m *MockTradingClient) CloseArbitrageTrade(_ context.Context, tradeID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CloseErr != nil {
		return 0, m.CloseErr
	}
	m.closed = append(m.closed, tradeID)
	return m.CloseProfit, nil
}

// SetPrice sets the price reported for symbol.
func (m *MockTradingClient) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[symbol] = price
}

// SetCloseErr scripts the next closes to fail.
func (m *MockTradingClient) SetCloseErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseErr = err
}

// Executed returns the sizes passed to ExecuteArbitrageTrade.
func (m *MockTradingClient) Executed() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.executed...)
}

// Closed returns the trade ids closed so far.
func (m *MockTradingClient) Closed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closed...)
}
