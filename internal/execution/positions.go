package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// GradePolicy is one row of the grade table: the exit parameters assigned
// to a position at entry. Percentages are absolute (1.0 means 1.0%).
type GradePolicy struct {
	TargetProfitPct float64
	TrailingStopPct float64
}

// DefaultGradeTable maps entry grades to their exit parameters. Higher
// grades earn wider profit targets.
var DefaultGradeTable = map[domain.Grade]GradePolicy{
	domain.GradeS: {TargetProfitPct: 1.5, TrailingStopPct: 0.5},
	domain.GradeA: {TargetProfitPct: 1.2, TrailingStopPct: 0.4},
	domain.GradeB: {TargetProfitPct: 1.0, TrailingStopPct: 0.3},
	domain.GradeC: {TargetProfitPct: 0.8, TrailingStopPct: 0.3},
}

// Signal is the outcome of a price evaluation for one position.
type Signal struct {
	Symbol    string
	Sell      bool
	Reason    domain.SellReason
	Price     float64
	ProfitPct float64
	Message   string
}

// AddParams carries the entry details for a new position.
type AddParams struct {
	Symbol       string
	Name         string
	EntryPrice   float64
	Quantity     int
	Score        float64
	AIConfidence float64
	// Structural stop references; zero disables the guard.
	BreakoutLevel float64
	EntryVWAP     float64
}

// PositionManagerConfig holds the risk parameters shared by all positions.
type PositionManagerConfig struct {
	// StopLossPct is the hard stop threshold, negative (e.g. -0.7).
	StopLossPct float64
	// GradeTable overrides DefaultGradeTable when non-nil.
	GradeTable map[domain.Grade]GradePolicy
}

// PositionManager owns all open positions and decides, on each price
// update, whether to hold or sell. It is the sole writer of the persisted
// position table.
type PositionManager struct {
	cfg    PositionManagerConfig
	logger ports.Logger
	repo   ports.PositionRepository

	mu        sync.Mutex
	positions map[string]*domain.Position
	tpTouched map[string]bool
}

// NewPositionManager creates a position manager and restores persisted
// positions from the repository.
func NewPositionManager(ctx context.Context, cfg PositionManagerConfig, logger ports.Logger, repo ports.PositionRepository) (*PositionManager, error) {
	if logger == nil || repo == nil {
		return nil, fmt.Errorf("missing required dependencies for PositionManager")
	}
	if cfg.StopLossPct >= 0 {
		return nil, fmt.Errorf("configuration StopLossPct must be negative")
	}
	if cfg.GradeTable == nil {
		cfg.GradeTable = DefaultGradeTable
	}

	pm := &PositionManager{
		cfg:       cfg,
		logger:    logger,
		repo:      repo,
		positions: make(map[string]*domain.Position),
		tpTouched: make(map[string]bool),
	}

	restored, err := repo.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore positions: %w", err)
	}
	for _, pos := range restored {
		pm.positions[pos.Symbol] = pos
		if pos.HighProfitPct() >= pos.TargetProfitPct {
			pm.tpTouched[pos.Symbol] = true
		}
	}
	if len(restored) > 0 {
		logger.Info(ctx, "Restored positions from storage", map[string]interface{}{"count": len(restored)})
	}
	return pm, nil
}

// Add opens a new position. Returns ports.ErrPositionExists if the symbol
// already has one.
func (pm *PositionManager) Add(ctx context.Context, params AddParams) (*domain.Position, error) {
	const op = "execution.PositionManager.Add"

	if params.Symbol == "" || params.EntryPrice <= 0 || params.Quantity <= 0 {
		return nil, fmt.Errorf("%s: invalid entry parameters: %w", op, ports.ErrInvalidRequest)
	}

	grade := domain.GradeForScore(params.Score)
	policy := pm.cfg.GradeTable[grade]
	now := time.Now()
	pos := &domain.Position{
		Symbol:          params.Symbol,
		Name:            params.Name,
		EntryPrice:      params.EntryPrice,
		Quantity:        params.Quantity,
		EntryTime:       now,
		Score:           params.Score,
		AIConfidence:    params.AIConfidence,
		Grade:           grade,
		CurrentPrice:    params.EntryPrice,
		HighPrice:       params.EntryPrice,
		TargetProfitPct: policy.TargetProfitPct,
		TrailingStopPct: policy.TrailingStopPct,
		StopLossPct:     pm.cfg.StopLossPct,
		BreakoutLevel:   params.BreakoutLevel,
		EntryVWAP:       params.EntryVWAP,
		UpdatedAt:       now,
	}

	pm.mu.Lock()
	if _, exists := pm.positions[params.Symbol]; exists {
		pm.mu.Unlock()
		return nil, fmt.Errorf("%s: %s: %w", op, params.Symbol, ports.ErrPositionExists)
	}
	pm.positions[params.Symbol] = pos
	pm.tpTouched[params.Symbol] = false
	pm.mu.Unlock()

	if err := pm.repo.SavePosition(ctx, pos); err != nil {
		pm.logger.Error(ctx, err, "Failed to persist position, continuing in memory", map[string]interface{}{
			"op": op, "symbol": params.Symbol,
		})
	}
	pm.logger.Info(ctx, "Position opened", map[string]interface{}{
		"op": op, "symbol": params.Symbol, "entryPrice": params.EntryPrice,
		"quantity": params.Quantity, "grade": string(grade),
	})
	snapshot := *pos
	return &snapshot, nil
}

// UpdatePrice records a new price for the symbol and evaluates the exit
// rules in priority order. Unknown symbols return a hold signal.
func (pm *PositionManager) UpdatePrice(ctx context.Context, symbol string, price float64) Signal {
	pm.mu.Lock()
	pos, ok := pm.positions[symbol]
	if !ok || price <= 0 {
		pm.mu.Unlock()
		return Signal{Symbol: symbol, Sell: false, Price: price}
	}

	pos.CurrentPrice = price
	newHigh := price > pos.HighPrice
	if newHigh {
		pos.HighPrice = price
	}
	pos.UpdatedAt = time.Now()

	sig := pm.evaluate(pos)
	if !pm.tpTouched[symbol] && pos.ProfitPct() >= pos.TargetProfitPct {
		pm.tpTouched[symbol] = true
	}
	var snapshot *domain.Position
	if newHigh {
		copied := *pos
		snapshot = &copied
	}
	pm.mu.Unlock()

	// Persist high-water advances so a restart resumes with the trail armed.
	if snapshot != nil {
		if err := pm.repo.SavePosition(ctx, snapshot); err != nil {
			pm.logger.Error(ctx, err, "Failed to persist position update", map[string]interface{}{
				"symbol": symbol,
			})
		}
	}
	return sig
}

// evaluate applies the exit rules. Caller must hold pm.mu.
func (pm *PositionManager) evaluate(pos *domain.Position) Signal {
	profit := pos.ProfitPct()
	sig := Signal{Symbol: pos.Symbol, Price: pos.CurrentPrice, ProfitPct: profit}

	// 1. Hard stop-loss.
	if profit <= pos.StopLossPct {
		sig.Sell = true
		sig.Reason = domain.SellReasonStopLoss
		sig.Message = fmt.Sprintf("stop loss hit (%.2f%% <= %.2f%%)", profit, pos.StopLossPct)
		return sig
	}

	// 2. Structural stop: price back below the breakout level or entry VWAP.
	if pos.BreakoutLevel > 0 && pos.CurrentPrice < pos.BreakoutLevel {
		sig.Sell = true
		sig.Reason = domain.SellReasonStructuralStop
		sig.Message = fmt.Sprintf("price %.0f below breakout level %.0f", pos.CurrentPrice, pos.BreakoutLevel)
		return sig
	}
	if pos.EntryVWAP > 0 && pos.CurrentPrice < pos.EntryVWAP {
		sig.Sell = true
		sig.Reason = domain.SellReasonStructuralStop
		sig.Message = fmt.Sprintf("price %.0f below entry VWAP %.0f", pos.CurrentPrice, pos.EntryVWAP)
		return sig
	}

	// 3. Take-profit. With a trailing stop configured the first touch only
	// arms it; the exit then rides the trail from the high-water mark.
	if profit >= pos.TargetProfitPct && pos.TrailingStopPct <= 0 {
		sig.Sell = true
		sig.Reason = domain.SellReasonTakeProfit
		sig.Message = fmt.Sprintf("take profit hit (%.2f%% >= %.2f%%)", profit, pos.TargetProfitPct)
		return sig
	}

	// 4. Trailing stop, active once the profit target has been touched.
	if pm.tpTouched[pos.Symbol] {
		drop := pos.HighProfitPct() - profit
		if drop >= pos.TrailingStopPct && pos.TrailingStopPct > 0 {
			sig.Sell = true
			sig.Reason = domain.SellReasonTrailingStop
			sig.Message = fmt.Sprintf("trailing stop (high %.2f%% -> now %.2f%%)", pos.HighProfitPct(), profit)
			return sig
		}
	}

	return sig
}

// Remove closes out a position. Removing an unknown symbol is a no-op.
func (pm *PositionManager) Remove(ctx context.Context, symbol string) *domain.Position {
	const op = "execution.PositionManager.Remove"

	pm.mu.Lock()
	pos, ok := pm.positions[symbol]
	if !ok {
		pm.mu.Unlock()
		return nil
	}
	delete(pm.positions, symbol)
	delete(pm.tpTouched, symbol)
	pm.mu.Unlock()

	if err := pm.repo.DeletePosition(ctx, symbol); err != nil {
		pm.logger.Error(ctx, err, "Failed to delete persisted position", map[string]interface{}{
			"op": op, "symbol": symbol,
		})
	}
	pm.logger.Info(ctx, "Position closed", map[string]interface{}{
		"op": op, "symbol": symbol, "profitPct": pos.ProfitPct(),
	})
	return pos
}

// Reduce shrinks a position after a partial fill or partial exit. Reducing
// to zero or below removes the position.
func (pm *PositionManager) Reduce(ctx context.Context, symbol string, soldQty int) error {
	const op = "execution.PositionManager.Reduce"

	pm.mu.Lock()
	pos, ok := pm.positions[symbol]
	if !ok {
		pm.mu.Unlock()
		return fmt.Errorf("%s: %s: %w", op, symbol, ports.ErrPositionNotFound)
	}
	if soldQty >= pos.Quantity {
		pm.mu.Unlock()
		pm.Remove(ctx, symbol)
		return nil
	}
	pos.Quantity -= soldQty
	pos.UpdatedAt = time.Now()
	snapshot := *pos
	pm.mu.Unlock()

	if err := pm.repo.SavePosition(ctx, &snapshot); err != nil {
		pm.logger.Error(ctx, err, "Failed to persist reduced position", map[string]interface{}{
			"op": op, "symbol": symbol,
		})
	}
	return nil
}

// Get returns a copy of the position for a symbol, or nil.
func (pm *PositionManager) Get(symbol string) *domain.Position {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pos, ok := pm.positions[symbol]
	if !ok {
		return nil
	}
	snapshot := *pos
	return &snapshot
}

// Has reports whether a position is open for the symbol.
func (pm *PositionManager) Has(symbol string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	_, ok := pm.positions[symbol]
	return ok
}

// All returns copies of every open position.
func (pm *PositionManager) All() []*domain.Position {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]*domain.Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		snapshot := *pos
		out = append(out, &snapshot)
	}
	return out
}

// Count returns the number of open positions.
func (pm *PositionManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.positions)
}

// TightenStops halves (by ratio) the stop-loss distance on every open
// position, used when the mode controller turns defensive.
func (pm *PositionManager) TightenStops(ctx context.Context, ratio float64) {
	if ratio <= 0 || ratio >= 1 {
		return
	}
	pm.mu.Lock()
	for _, pos := range pm.positions {
		pos.StopLossPct = pos.StopLossPct * ratio
	}
	pm.mu.Unlock()
	pm.logger.Info(ctx, "Tightened stop losses on open positions", map[string]interface{}{"ratio": ratio})
}

// MarkEmergencyExit raises every stop to break-even so the next price
// update at or below entry emits a sell signal.
func (pm *PositionManager) MarkEmergencyExit(ctx context.Context) {
	pm.mu.Lock()
	for _, pos := range pm.positions {
		pos.StopLossPct = 0
	}
	pm.mu.Unlock()
	pm.logger.Warn(ctx, "Marked all positions for emergency exit")
}

// SyncWithBroker reconciles the in-memory table against the broker's
// account view: positions the broker no longer holds are dropped, and
// quantity mismatches adopt the broker's number.
func (pm *PositionManager) SyncWithBroker(ctx context.Context, brokerPositions []ports.BrokerPosition) {
	const op = "execution.PositionManager.SyncWithBroker"

	held := make(map[string]ports.BrokerPosition, len(brokerPositions))
	for _, bp := range brokerPositions {
		held[bp.Symbol] = bp
	}

	pm.mu.Lock()
	var removed []string
	for symbol, pos := range pm.positions {
		bp, ok := held[symbol]
		if !ok || bp.Quantity <= 0 {
			delete(pm.positions, symbol)
			delete(pm.tpTouched, symbol)
			removed = append(removed, symbol)
			continue
		}
		if bp.Quantity != pos.Quantity {
			pm.logger.Warn(ctx, "Quantity mismatch with broker, adopting broker value", map[string]interface{}{
				"op": op, "symbol": symbol, "local": pos.Quantity, "broker": bp.Quantity,
			})
			pos.Quantity = bp.Quantity
		}
	}
	pm.mu.Unlock()

	for _, symbol := range removed {
		if err := pm.repo.DeletePosition(ctx, symbol); err != nil {
			pm.logger.Error(ctx, err, "Failed to delete stale position", map[string]interface{}{
				"op": op, "symbol": symbol,
			})
		}
		pm.logger.Warn(ctx, "Dropped position not held at broker", map[string]interface{}{
			"op": op, "symbol": symbol,
		})
	}
}

// TotalProfitPct returns the weighted unrealized return across positions.
func (pm *PositionManager) TotalProfitPct() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var invested, value float64
	for _, pos := range pm.positions {
		invested += pos.EntryPrice * float64(pos.Quantity)
		value += pos.CurrentPrice * float64(pos.Quantity)
	}
	if invested <= 0 {
		return 0
	}
	return (value - invested) / invested * 100
}
