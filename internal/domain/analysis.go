package domain

import "time"

// AIRequest is an immutable analysis request submitted to the AI pipeline.
// Ownership transfers from the engine to the pipeline on submit.
type AIRequest struct {
	Symbol      string
	Name        string
	Price       float64 // Price at analysis time
	RuleScore   float64 // Composite score at submission (0-100)
	Indicators  IndicatorSnapshot
	Market      MarketState
	SubmittedAt time.Time
}

// AIResult is the immutable outcome of one analysis request. Results
// arrive in completion order, not submission order.
type AIResult struct {
	Symbol        string
	Name          string
	Decision      Decision
	Confidence    float64 // 0.0 - 1.0
	Reason        string
	AnalysisPrice float64       // Price snapshot taken at submission
	RuleScore     float64       // Echoed from the request
	SubmittedAt   time.Time     // Echoed from the request
	Elapsed       time.Duration // Round-trip latency of the inference call
}
