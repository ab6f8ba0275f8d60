package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

type mockLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *mockLogger) record(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.record(msg)
}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.record(msg)
}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.record(msg)
}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.record(msg)
}

type mockBroker struct {
	mu           sync.Mutex
	quotes       map[string]*domain.Quote
	prices       map[string]float64
	positions    []ports.BrokerPosition
	buyCalls     []string
	sellCalls    []string
	cancelCalls  int
	buyErr       error
	sellErr      error
	healthy      bool
	fillPrice    float64
	indexChange  float64
	positionsErr error
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		quotes:  make(map[string]*domain.Quote),
		prices:  make(map[string]float64),
		healthy: true,
	}
}

func (b *mockBroker) BuyMarket(ctx context.Context, symbol string, quantity int) (*ports.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buyCalls = append(b.buyCalls, symbol)
	if b.buyErr != nil {
		return nil, b.buyErr
	}
	return &ports.OrderResult{
		Success: true, OrderID: fmt.Sprintf("B-%d", len(b.buyCalls)),
		Symbol: symbol, Side: domain.Buy, Price: b.fillPrice, Quantity: quantity, FilledQty: quantity,
	}, nil
}

func (b *mockBroker) SellMarket(ctx context.Context, symbol string, quantity int) (*ports.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sellCalls = append(b.sellCalls, symbol)
	if b.sellErr != nil {
		return nil, b.sellErr
	}
	return &ports.OrderResult{
		Success: true, OrderID: fmt.Sprintf("S-%d", len(b.sellCalls)),
		Symbol: symbol, Side: domain.Sell, Price: b.fillPrice, Quantity: quantity, FilledQty: quantity,
	}, nil
}

func (b *mockBroker) CancelOrder(ctx context.Context, orderID, symbol string, quantity int) error {
	return nil
}

func (b *mockBroker) CancelAllPendingOrders(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCalls++
	return 0, nil
}

func (b *mockBroker) GetPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.positionsErr != nil {
		return nil, b.positionsErr
	}
	return append([]ports.BrokerPosition(nil), b.positions...), nil
}

func (b *mockBroker) GetPendingOrders(ctx context.Context) ([]ports.PendingOrder, error) {
	return nil, nil
}

func (b *mockBroker) GetBalance(ctx context.Context) (*ports.Balance, error) {
	return &ports.Balance{Cash: 10_000_000}, nil
}

func (b *mockBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.prices[symbol]; ok {
		return p, nil
	}
	return 0, ports.ErrBrokerUnavailable
}

func (b *mockBroker) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.quotes[symbol]; ok {
		return q, nil
	}
	return nil, ports.ErrBrokerUnavailable
}

func (b *mockBroker) GetIndexChange(ctx context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexChange, nil
}

func (b *mockBroker) HealthCheck(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *mockBroker) buys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.buyCalls...)
}

func (b *mockBroker) sells() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sellCalls...)
}

type mockNotifier struct {
	mu          sync.Mutex
	buys        []string
	sells       []string
	emergencies []string
	modeChanges []string
	reports     int
}

func (n *mockNotifier) NotifyBuy(ctx context.Context, pos *domain.Position) {
	n.mu.Lock()
	n.buys = append(n.buys, pos.Symbol)
	n.mu.Unlock()
}

func (n *mockNotifier) NotifySell(ctx context.Context, trade *domain.Trade) {
	n.mu.Lock()
	n.sells = append(n.sells, trade.Symbol)
	n.mu.Unlock()
}

func (n *mockNotifier) NotifyEmergency(ctx context.Context, detail string) {
	n.mu.Lock()
	n.emergencies = append(n.emergencies, detail)
	n.mu.Unlock()
}

func (n *mockNotifier) NotifyModeChange(ctx context.Context, from, to domain.TradingMode, reason string) {
	n.mu.Lock()
	n.modeChanges = append(n.modeChanges, string(from)+"->"+string(to))
	n.mu.Unlock()
}

func (n *mockNotifier) NotifyDailyReport(ctx context.Context, summary *domain.DailySummary) {
	n.mu.Lock()
	n.reports++
	n.mu.Unlock()
}

type mockUniverse struct {
	mu         sync.Mutex
	candidates []*domain.Candidate
	err        error
}

func (u *mockUniverse) Candidates(ctx context.Context) ([]*domain.Candidate, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	return append([]*domain.Candidate(nil), u.candidates...), nil
}

type mockFeed struct {
	mu          sync.Mutex
	subscribed  []string
	unsubs      []string
	closed      bool
	subscribeIn map[string]bool
}

func newMockFeed() *mockFeed {
	return &mockFeed{subscribeIn: make(map[string]bool)}
}

func (f *mockFeed) Subscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, symbol)
	f.subscribeIn[symbol] = true
	return nil
}

func (f *mockFeed) Unsubscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, symbol)
	delete(f.subscribeIn, symbol)
	return nil
}

func (f *mockFeed) Start(ctx context.Context, handler ports.TickHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *mockFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type mockMonitor struct {
	mu    sync.Mutex
	state domain.MarketState
}

func (m *mockMonitor) State(ctx context.Context) (*domain.MarketState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	return &s, nil
}

func (m *mockMonitor) setIndex(changePct float64) {
	m.mu.Lock()
	m.state = domain.MarketState{IndexChangePct: changePct, UpdatedAt: time.Now()}
	m.mu.Unlock()
}

type mockTradeRepo struct {
	mu     sync.Mutex
	trades []*domain.Trade
	nextID int64
}

func (r *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	trade.ID = r.nextID
	r.trades = append(r.trades, trade)
	return r.nextID, nil
}

func (r *mockTradeRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *mockTradeRepo) TodaySummary(ctx context.Context) (*domain.DailySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := &domain.DailySummary{Date: time.Now().Format("2006-01-02")}
	for _, t := range r.trades {
		summary.TotalTrades++
		if t.IsWin() {
			summary.Wins++
		} else {
			summary.Losses++
		}
		summary.TotalPNL += t.PNL
		summary.TotalPct += t.ProfitPct
	}
	return summary, nil
}

func (r *mockTradeRepo) all() []*domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Trade(nil), r.trades...)
}

type mockPositionRepo struct {
	mu    sync.Mutex
	saved map[string]*domain.Position
}

func newMockPositionRepo() *mockPositionRepo {
	return &mockPositionRepo{saved: make(map[string]*domain.Position)}
}

func (r *mockPositionRepo) SavePosition(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pos
	r.saved[pos.Symbol] = &cp
	return nil
}

func (r *mockPositionRepo) DeletePosition(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.saved, symbol)
	return nil
}

func (r *mockPositionRepo) LoadPositions(ctx context.Context) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Position
	for _, p := range r.saved {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

type mockCooldownRepo struct {
	mu    sync.Mutex
	saved map[string]*domain.CooldownEntry
}

func newMockCooldownRepo() *mockCooldownRepo {
	return &mockCooldownRepo{saved: make(map[string]*domain.CooldownEntry)}
}

func (r *mockCooldownRepo) SaveCooldown(ctx context.Context, entry *domain.CooldownEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.saved[entry.Symbol] = &cp
	return nil
}

func (r *mockCooldownRepo) DeleteCooldown(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.saved, symbol)
	return nil
}

func (r *mockCooldownRepo) LoadCooldowns(ctx context.Context) ([]*domain.CooldownEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CooldownEntry
	for _, e := range r.saved {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

type mockInference struct {
	mu        sync.Mutex
	responses map[string]string
	fallback  string
	calls     int
}

func (m *mockInference) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for key, resp := range m.responses {
		if key != "" && strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return m.fallback, nil
}
