package domain

import "time"

// Position represents an open holding tracked by the position manager.
// The position manager is the sole owner; other components read copies.
type Position struct {
	ID         int64     // Unique identifier (assigned by the repository)
	Symbol     string    // Stock code (e.g., "005930")
	Name       string    // Display name
	EntryPrice float64   // Fill price at entry
	Quantity   int       // Number of shares held
	EntryTime  time.Time // Timestamp of entry fill

	// Scoring at entry
	Score        float64 // Composite score at entry (0-100)
	AIConfidence float64 // AI confidence at entry (0-1)
	Grade        Grade   // Tier derived from entry score

	// Price tracking
	CurrentPrice float64 // Latest observed price
	HighPrice    float64 // High-water price since entry (monotonically non-decreasing)

	// Exit thresholds (percentages; stop loss is negative)
	TargetProfitPct float64 // Take-profit target from the grade table
	TrailingStopPct float64 // Trailing-stop retreat from the grade table
	StopLossPct     float64 // Hard stop-loss

	// Structural stop references (zero disables the guard)
	BreakoutLevel float64 // Breakout price level confirmed at entry
	EntryVWAP     float64 // Volume-weighted average price at entry

	UpdatedAt time.Time
}

// ProfitPct returns the current unrealized return in percent.
func (p *Position) ProfitPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// HighProfitPct returns the best unrealized return seen since entry, in percent.
func (p *Position) HighProfitPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.HighPrice - p.EntryPrice) / p.EntryPrice * 100
}

// CooldownEntry is the per-symbol re-entry restriction set after an exit.
type CooldownEntry struct {
	Symbol            string
	Until             time.Time // Re-entry allowed at/after this instant
	Reason            string
	ConsecutiveLosses int // Losing exits on this symbol since its last win
}

// Active reports whether the cooldown is still in effect at the given time.
func (c *CooldownEntry) Active(now time.Time) bool {
	return now.Before(c.Until)
}
