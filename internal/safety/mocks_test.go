package safety

import (
	"context"
	"sync"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockBroker implements ports.Broker for testing
type mockBroker struct {
	positions    []ports.BrokerPosition
	sellOrders   []string
	cancelCalls  int
	sellErr      error
	positionsErr error
}

func (m *mockBroker) BuyMarket(ctx context.Context, symbol string, quantity int) (*ports.OrderResult, error) {
	return &ports.OrderResult{Success: true, Symbol: symbol, Quantity: quantity}, nil
}

func (m *mockBroker) SellMarket(ctx context.Context, symbol string, quantity int) (*ports.OrderResult, error) {
	if m.sellErr != nil {
		return nil, m.sellErr
	}
	m.sellOrders = append(m.sellOrders, symbol)
	return &ports.OrderResult{Success: true, Symbol: symbol, Quantity: quantity, OrderID: "order-" + symbol}, nil
}

func (m *mockBroker) CancelOrder(ctx context.Context, orderID, symbol string, quantity int) error {
	return nil
}

func (m *mockBroker) CancelAllPendingOrders(ctx context.Context) (int, error) {
	m.cancelCalls++
	return 0, nil
}

func (m *mockBroker) GetPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	if m.positionsErr != nil {
		return nil, m.positionsErr
	}
	return m.positions, nil
}

func (m *mockBroker) GetPendingOrders(ctx context.Context) ([]ports.PendingOrder, error) {
	return nil, nil
}

func (m *mockBroker) GetBalance(ctx context.Context) (*ports.Balance, error) {
	return &ports.Balance{Cash: 1000000}, nil
}

func (m *mockBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return 10000, nil
}

func (m *mockBroker) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return &domain.Quote{Symbol: symbol, Bid: 9990, Ask: 10010}, nil
}

func (m *mockBroker) GetIndexChange(ctx context.Context) (float64, error) {
	return 0, nil
}

func (m *mockBroker) HealthCheck(ctx context.Context) bool { return true }

// mockNotifier implements ports.Notifier for testing
type mockNotifier struct {
	emergencies []string
}

func (m *mockNotifier) NotifyBuy(ctx context.Context, pos *domain.Position) {}

func (m *mockNotifier) NotifySell(ctx context.Context, trade *domain.Trade) {}

func (m *mockNotifier) NotifyEmergency(ctx context.Context, reason string) {
	m.emergencies = append(m.emergencies, reason)
}

func (m *mockNotifier) NotifyModeChange(ctx context.Context, from, to domain.TradingMode, reason string) {
}

func (m *mockNotifier) NotifyDailyReport(ctx context.Context, summary *domain.DailySummary) {}
