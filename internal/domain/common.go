package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Grade is the tier assigned to a position at entry based on its composite score.
// Grades are ordered S > A > B > C by decreasing score threshold.
type Grade string

const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

// GradeForScore maps a composite score (0-100) to its entry grade.
func GradeForScore(score float64) Grade {
	switch {
	case score >= 90:
		return GradeS
	case score >= 80:
		return GradeA
	case score >= 70:
		return GradeB
	default:
		return GradeC
	}
}

// Decision is the verdict returned by the AI analysis pipeline.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionHold Decision = "HOLD"
	DecisionSkip Decision = "SKIP"
)

// SellReason indicates why a position was (or should be) closed.
type SellReason string

const (
	SellReasonStopLoss       SellReason = "STOP_LOSS"
	SellReasonStructuralStop SellReason = "STRUCTURAL_STOP"
	SellReasonTakeProfit     SellReason = "TAKE_PROFIT"
	SellReasonTrailingStop   SellReason = "TRAILING_STOP"
	SellReasonTimeLimit      SellReason = "TIME_LIMIT" // end-of-day liquidation
	SellReasonEmergency      SellReason = "EMERGENCY"
	SellReasonManual         SellReason = "MANUAL"
)

// TradingMode selects the active strategy-parameter set.
type TradingMode string

const (
	ModeDefensive  TradingMode = "DEFENSIVE"
	ModeBalanced   TradingMode = "BALANCED"
	ModeAggressive TradingMode = "AGGRESSIVE"
)
