package ports

import (
	"context"
	"time"

	"scalpbot/internal/domain"
)

// OrderResult represents the essential details returned after placing an order.
type OrderResult struct {
	Success     bool
	OrderID     string
	Symbol      string
	Side        domain.OrderSide
	Price       float64 // Fill price (may be 0 if the fill is not yet confirmed)
	Quantity    int
	FilledQty   int
	ErrorDetail string
	Timestamp   time.Time
}

// BrokerPosition is a holding as reported by the brokerage account.
type BrokerPosition struct {
	Symbol       string
	Name         string
	Quantity     int
	AvgPrice     float64
	CurrentPrice float64
}

// PendingOrder is an unfilled (or partially filled) open order.
type PendingOrder struct {
	OrderID    string
	Symbol     string
	Side       domain.OrderSide
	OrderQty   int
	FilledQty  int
	PendingQty int
	Price      float64
	OrderTime  time.Time
}

// Balance is the cash state of the brokerage account.
type Balance struct {
	Cash       float64 // Available cash
	TotalEval  float64 // Cash plus holdings at market
	TotalPNL   float64 // Unrealized profit/loss across holdings
	ProfitRate float64 // TotalPNL over invested amount, in percent
}

// OrderExecutor places and cancels orders at the brokerage.
// Implementations must be safe for use from a single goroutine; the engine
// guarantees at most one in-flight order per symbol.
type OrderExecutor interface {
	// BuyMarket places a market buy order.
	BuyMarket(ctx context.Context, symbol string, quantity int) (*OrderResult, error)
	// SellMarket places a market sell order.
	SellMarket(ctx context.Context, symbol string, quantity int) (*OrderResult, error)
	// CancelOrder cancels an open order. Returns ErrOrderNotFound (wrapped)
	// if the order is already filled or gone.
	CancelOrder(ctx context.Context, orderID, symbol string, quantity int) error
	// CancelAllPendingOrders cancels every open order and returns the count cancelled.
	CancelAllPendingOrders(ctx context.Context) (int, error)
}

// AccountReader reads account state from the brokerage.
type AccountReader interface {
	// GetPositions returns the current holdings of the account.
	GetPositions(ctx context.Context) ([]BrokerPosition, error)
	// GetPendingOrders returns all unfilled open orders.
	GetPendingOrders(ctx context.Context) ([]PendingOrder, error)
	// GetBalance returns the cash state of the account.
	GetBalance(ctx context.Context) (*Balance, error)
}

// QuoteSource reads current market prices from the brokerage REST API.
// Used as the fallback when the realtime feed has no fresher value.
type QuoteSource interface {
	// GetCurrentPrice returns the last traded price for a symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	// GetQuote returns the current best bid/ask for a symbol.
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	// GetIndexChange returns the day change of the reference index in percent.
	GetIndexChange(ctx context.Context) (float64, error)
}

// Broker aggregates the full brokerage surface consumed by the core.
type Broker interface {
	OrderExecutor
	AccountReader
	QuoteSource
	// HealthCheck reports whether the brokerage API is reachable.
	HealthCheck(ctx context.Context) bool
}
