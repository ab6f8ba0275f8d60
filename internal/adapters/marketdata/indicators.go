package marketdata

import (
	"math"

	"scalpbot/internal/domain"
)

const (
	cciPeriod    = 14
	cciConstant  = 0.015
	maPeriod     = 20
	volumePeriod = 20
)

// computeSnapshot derives the indicator set from daily bars, oldest first.
// Indicators that need more history than given stay at their zero value.
func computeSnapshot(candles []domain.Candle) domain.IndicatorSnapshot {
	if len(candles) == 0 {
		return domain.IndicatorSnapshot{}
	}

	last := candles[len(candles)-1]
	snap := domain.IndicatorSnapshot{
		ChangePct:     last.ChangePct,
		CCI:           cci(candles, cciPeriod),
		VolumeRatio:   volumeRatio(candles, volumePeriod),
		ConsecBullish: consecutiveBullish(candles),
		CandleScore:   candleScore(candles),
	}

	if ma := movingAverage(candles, maPeriod, len(candles)-1); ma > 0 {
		snap.DistanceMA20 = (last.Close - ma) / ma * 100
	}
	return snap
}

// cci computes the commodity channel index over the final period bars:
// (TP - SMA(TP)) / (constant * mean absolute deviation), TP = (H+L+C)/3.
func cci(candles []domain.Candle, period int) float64 {
	if len(candles) < period {
		return 0
	}

	tps := make([]float64, period)
	var sum float64
	for i, c := range candles[len(candles)-period:] {
		tps[i] = (c.High + c.Low + c.Close) / 3
		sum += tps[i]
	}
	mean := sum / float64(period)

	var mad float64
	for _, tp := range tps {
		mad += math.Abs(tp - mean)
	}
	mad /= float64(period)
	if mad == 0 {
		return 0
	}
	return (tps[period-1] - mean) / (cciConstant * mad)
}

// movingAverage returns the simple MA of closes ending at index end inclusive,
// or 0 when there is not enough history.
func movingAverage(candles []domain.Candle, period, end int) float64 {
	if end+1 < period || end >= len(candles) {
		return 0
	}
	var sum float64
	for i := end - period + 1; i <= end; i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

func volumeRatio(candles []domain.Candle, period int) float64 {
	if len(candles) < period {
		return 1.0
	}
	var sum int64
	for _, c := range candles[len(candles)-period:] {
		sum += c.Volume
	}
	avg := float64(sum) / float64(period)
	if avg == 0 {
		return 1.0
	}
	return float64(candles[len(candles)-1].Volume) / avg
}

func consecutiveBullish(candles []domain.Candle) int {
	count := 0
	for i := len(candles) - 1; i >= 0; i-- {
		if !candles[i].Bullish() {
			break
		}
		count++
	}
	return count
}

// candleScore grades the last bar out of 15. Base 10; a long upper wick
// (over 30% of the range) costs 5, a rising MA20 over the last three bars
// earns 5, closing on the high earns 2.
func candleScore(candles []domain.Candle) float64 {
	last := candles[len(candles)-1]
	score := 10.0

	totalRange := last.High - last.Low
	if totalRange > 0 {
		var upperWick float64
		if last.Bullish() {
			upperWick = last.High - last.Close
		} else {
			upperWick = last.High - last.Open
		}
		if upperWick/totalRange > 0.3 {
			score -= 5.0
		}
	}

	if ma20RisingThreeDays(candles) {
		score += 5.0
	}

	// Closing on the high, 0.1% tolerance
	if last.High > 0 && math.Abs(last.High-last.Close) < last.High*0.001 {
		score += 2.0
	}

	return math.Max(0, math.Min(15, score))
}

func ma20RisingThreeDays(candles []domain.Candle) bool {
	n := len(candles)
	if n < maPeriod+2 {
		return false
	}
	ma0 := movingAverage(candles, maPeriod, n-3)
	ma1 := movingAverage(candles, maPeriod, n-2)
	ma2 := movingAverage(candles, maPeriod, n-1)
	return ma0 > 0 && ma1 > ma0 && ma2 > ma1
}
