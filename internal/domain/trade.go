package domain

import "time"

// Trade is the append-only record of a closed position.
type Trade struct {
	ID         int64
	Symbol     string
	Name       string
	EntryPrice float64
	ExitPrice  float64
	Quantity   int
	PNL        float64 // Realized profit/loss in currency units
	ProfitPct  float64 // Realized return in percent
	EntryTime  time.Time
	ExitTime   time.Time
	Reason     SellReason
}

// IsWin reports whether the trade closed at a profit.
func (t *Trade) IsWin() bool {
	return t.ProfitPct > 0
}

// DailySummary aggregates the closed trades of one trading day.
type DailySummary struct {
	Date        string
	TotalTrades int
	Wins        int
	Losses      int
	TotalPNL    float64
	TotalPct    float64
	BestSymbol  string
	BestPct     float64
	WorstSymbol string
	WorstPct    float64
}

// WinRate returns the fraction of winning trades in percent.
func (s *DailySummary) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades) * 100
}
