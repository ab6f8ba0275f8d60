package domain

import "time"

// Quote is the latest bid/ask snapshot for a symbol.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// SpreadPct returns the bid/ask spread as a percentage of the bid.
func (q *Quote) SpreadPct() float64 {
	if q.Bid <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / q.Bid * 100
}

// PriceTick is a single last-trade update from the realtime feed.
type PriceTick struct {
	Symbol    string
	Price     float64
	Volume    int64
	Timestamp time.Time
}

// Candle is one daily OHLCV bar.
type Candle struct {
	Date      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	ChangePct float64
}

// Bullish reports whether the bar closed above its open.
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// Listing is one row of a turnover ranking, before universe filtering.
type Listing struct {
	Symbol     string
	Name       string
	Price      float64
	ChangePct  float64
	Volume     int64
	TradeValue float64 // Accumulated trade value in KRW
}

// IndicatorSnapshot carries the per-symbol indicator values handed to
// the scorer and the AI pipeline. Values are computed by the market-data
// collaborators; the core only reads them.
type IndicatorSnapshot struct {
	CCI           float64 // Commodity channel index (14)
	ChangePct     float64 // Day change in percent
	DistanceMA20  float64 // Distance from the 20-day moving average in percent
	VolumeRatio   float64 // Volume vs. recent average
	ConsecBullish int     // Consecutive bullish days
	CandleScore   float64 // Candle quality score (0-15)
}

// Candidate is a scanned universe entry considered for entry.
type Candidate struct {
	Symbol     string
	Name       string
	Price      float64
	Indicators IndicatorSnapshot
}

// Score is a composite score with its per-component breakdown.
type Score struct {
	Total     float64
	Breakdown map[string]float64
}

// MarketState is the index-level snapshot published by the market monitor.
type MarketState struct {
	IndexChangePct float64 // Day change of the reference index in percent
	AboveMA20      bool    // Index above its 20-day moving average
	UpdatedAt      time.Time
}
