package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

const (
	defaultRefreshInterval = 10 * time.Second
	defaultHistoryDays     = 30
)

// IndexSource reads the reference index from the brokerage.
type IndexSource interface {
	// GetIndexSnapshot returns the current level and day change in percent.
	GetIndexSnapshot(ctx context.Context) (float64, float64, error)
	// GetIndexCandles returns daily index bars, oldest first.
	GetIndexCandles(ctx context.Context, days int) ([]domain.Candle, error)
}

// Monitor implements ports.MarketMonitor. It caches the index snapshot
// for the refresh interval and computes the MA20 position from daily
// history loaded once per session, with the live level standing in for
// today's close.
type Monitor struct {
	cfg    MonitorConfig
	source IndexSource
	logger ports.Logger

	mu       sync.Mutex
	state    domain.MarketState
	history  []float64 // daily closes, oldest first
	loadedAt time.Time

	now func() time.Time
}

// MonitorConfig holds configuration for the market monitor.
type MonitorConfig struct {
	Source IndexSource
	Logger ports.Logger

	// RefreshInterval is how long a snapshot stays fresh.
	RefreshInterval time.Duration
	// HistoryDays is how many daily closes back the MA history loads.
	HistoryDays int
}

// NewMonitor creates a market monitor over an index source.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Source == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Monitor")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = defaultHistoryDays
	}

	return &Monitor{
		cfg:    cfg,
		source: cfg.Source,
		logger: cfg.Logger,
		now:    time.Now,
	}, nil
}

// State returns the latest market state, refreshing it when stale.
// A fetch failure serves the previous state so one flaky read never
// looks like a market event.
func (m *Monitor) State(ctx context.Context) (*domain.MarketState, error) {
	const op = "marketdata.Monitor.State"

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.UpdatedAt.IsZero() && m.now().Sub(m.state.UpdatedAt) < m.cfg.RefreshInterval {
		state := m.state
		return &state, nil
	}

	price, changePct, err := m.source.GetIndexSnapshot(ctx)
	if err != nil {
		if !m.state.UpdatedAt.IsZero() {
			m.logger.Warn(ctx, "Index fetch failed, serving stale market state", map[string]interface{}{
				"op": op, "error": err.Error(),
			})
			state := m.state
			return &state, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.ensureHistory(ctx)

	m.state = domain.MarketState{
		IndexChangePct: changePct,
		AboveMA20:      m.aboveMA20(price),
		UpdatedAt:      m.now(),
	}

	m.logger.Debug(ctx, "Market state refreshed", map[string]interface{}{
		"index": price, "changePct": changePct, "aboveMA20": m.state.AboveMA20,
	})
	state := m.state
	return &state, nil
}

// ensureHistory loads daily closes once per calendar day. Missing history
// is tolerated; the MA check then defaults to optimistic.
func (m *Monitor) ensureHistory(ctx context.Context) {
	now := m.now()
	if m.history != nil && m.loadedAt.Year() == now.Year() && m.loadedAt.YearDay() == now.YearDay() {
		return
	}

	candles, err := m.source.GetIndexCandles(ctx, m.cfg.HistoryDays)
	if err != nil {
		m.logger.Warn(ctx, "Index history load failed", map[string]interface{}{"error": err.Error()})
		return
	}

	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}
	m.history = closes
	m.loadedAt = now
}

// aboveMA20 treats the live level as today's close on top of the loaded
// history. Insufficient history reads as above.
func (m *Monitor) aboveMA20(price float64) bool {
	if price <= 0 || len(m.history) < 19 {
		return true
	}
	closes := append(append([]float64(nil), m.history...), price)
	window := closes[len(closes)-20:]

	var sum float64
	for _, c := range window {
		sum += c
	}
	return price >= sum/20
}
