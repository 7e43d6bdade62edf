package bybit

import (
	"fmt"
	"sync"
)

// MockClient is an in-memory ExchangeClient used by tests and dry-run mode.
// Market data and order outcomes are seeded by the caller; placed orders are
// recorded so tests can assert on them.
type MockClient struct {
	mu sync.Mutex

	Klines      map[string][]Kline // keyed symbol+"_"+interval
	Prices      map[string]float64
	Instruments map[string]*InstrumentInfo
	Positions   []Position
	Balance     float64

	// OrderResults are consumed in order by PlaceOrder; when exhausted,
	// orders succeed with retCode 0.
	OrderResults []*OrderResult
	PlacedOrders []OrderParams

	KlinesErr error
	OrderErr  error
}

func NewMockClient() *MockClient {
	return &MockClient{
		Klines:      make(map[string][]Kline),
		Prices:      make(map[string]float64),
		Instruments: make(map[string]*InstrumentInfo),
		Balance:     10000,
	}
}

func (m *MockClient) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.KlinesErr != nil {
		return nil, m.KlinesErr
	}
	klines, ok := m.Klines[symbol+"_"+interval]
	if !ok {
		return nil, fmt.Errorf("no kline data for %s %s", symbol, interval)
	}
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	out := make([]Kline, len(klines))
	copy(out, klines)
	return out, nil
}

func (m *MockClient) GetCurrentPrice(symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.Prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (m *MockClient) GetInstrumentInfo(symbol string) (*InstrumentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.Instruments[symbol]; ok {
		cp := *info
		return &cp, nil
	}
	return &InstrumentInfo{
		Symbol:      symbol,
		QtyStep:     0.001,
		MinOrderQty: 0.001,
		MaxOrderQty: 1000,
		MinNotional: 5,
		MaxLeverage: 100,
	}, nil
}

func (m *MockClient) GetPositions() ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, len(m.Positions))
	copy(out, m.Positions)
	return out, nil
}

func (m *MockClient) GetBalance() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, nil
}

func (m *MockClient) SetLeverage(symbol string, leverage float64) error {
	return nil
}

func (m *MockClient) PlaceOrder(params OrderParams) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	m.PlacedOrders = append(m.PlacedOrders, params)
	if len(m.OrderResults) > 0 {
		result := m.OrderResults[0]
		m.OrderResults = m.OrderResults[1:]
		return result, nil
	}
	return &OrderResult{RetCode: 0, RetMsg: "OK", OrderID: fmt.Sprintf("mock-%d", len(m.PlacedOrders))}, nil
}

// SetPositions replaces the mock position snapshot.
func (m *MockClient) SetPositions(positions []Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions = make([]Position, len(positions))
	copy(m.Positions, positions)
}
