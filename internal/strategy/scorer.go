package strategy

import (
	"fmt"
	"math"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// maxRawScore is the sum of the component maxima before normalization.
const maxRawScore = 85.0

// CompositeScorer grades candidates on six weighted indicator components
// and normalizes the raw sum to a 0-100 scale. It is pure and synchronous.
type CompositeScorer struct {
	logger ports.Logger
}

// NewCompositeScorer creates a scorer.
func NewCompositeScorer(logger ports.Logger) (*CompositeScorer, error) {
	if logger == nil {
		return nil, fmt.Errorf("missing required dependencies for CompositeScorer")
	}
	return &CompositeScorer{logger: logger}, nil
}

// Score computes the composite score for a candidate.
func (s *CompositeScorer) Score(c *domain.Candidate) *domain.Score {
	ind := c.Indicators
	breakdown := map[string]float64{
		"cci":      cciScore(ind.CCI),
		"change":   changeScore(ind.ChangePct),
		"distance": distanceScore(ind.DistanceMA20),
		"consec":   consecScore(ind.ConsecBullish),
		"volume":   volumeScore(ind.VolumeRatio),
		"candle":   clamp(ind.CandleScore, 0, 15),
	}
	var raw float64
	for _, v := range breakdown {
		raw += v
	}
	return &domain.Score{
		Total:     raw / maxRawScore * 100,
		Breakdown: breakdown,
	}
}

// cciScore scores momentum. The 160-180 band is the sweet spot: strong
// momentum without overheating. Max 15.
func cciScore(cci float64) float64 {
	switch {
	case cci >= 160 && cci <= 180:
		return 15.0
	case cci >= 140 && cci < 160:
		return 12.0 + (cci-140)/20*3.0
	case cci > 180 && cci <= 200:
		return 15.0 - (cci-180)/20*3.0
	case cci >= 100 && cci < 140:
		return 5.0 + (cci-100)/40*7.0
	case cci > 200 && cci <= 250:
		return 12.0 - (cci-200)/50*7.0
	case cci > 250:
		return math.Max(0, 5.0-(cci-250)/100*5.0)
	default:
		return 2.0
	}
}

// changeScore scores the day change. 2-8% is a healthy move, peaking at 5%.
// Max 15.
func changeScore(changePct float64) float64 {
	switch {
	case changePct >= 2.0 && changePct <= 8.0:
		return 15.0 - math.Abs(changePct-5)/3
	case changePct >= 1.0 && changePct < 2.0:
		return 10.0 + (changePct-1.0)*4.0
	case changePct > 8.0 && changePct <= 10.0:
		return 14.0 - (changePct-8.0)/2*4.0
	case changePct < 0:
		return math.Max(0, 3.0+(changePct+5)*0.6)
	default:
		return 5.0
	}
}

// distanceScore scores the gap above the 20-day moving average. Max 15.
func distanceScore(distanceMA20 float64) float64 {
	switch {
	case distanceMA20 >= 2.0 && distanceMA20 <= 8.0:
		return 15.0 - math.Abs(distanceMA20-5)/3
	case distanceMA20 >= 0 && distanceMA20 < 2.0:
		return 8.0 + distanceMA20*3.0
	case distanceMA20 > 8.0 && distanceMA20 <= 15.0:
		return 14.0 - (distanceMA20-8.0)/7.0*6.0
	case distanceMA20 < 0:
		return math.Max(3.0, 8.0+distanceMA20*0.5)
	default:
		return 2.0
	}
}

// consecScore scores the bullish-day streak. 2-3 days confirms a trend
// before it overheats. Max 10.
func consecScore(consecBullish int) float64 {
	switch {
	case consecBullish == 2 || consecBullish == 3:
		return 10.0
	case consecBullish == 1:
		return 6.0
	case consecBullish == 4:
		return 8.0
	case consecBullish == 0:
		return 3.0
	case consecBullish >= 5:
		return math.Max(2.0, 6.0-float64(consecBullish-4))
	default:
		return 5.0
	}
}

// volumeScore scores the volume ratio over the recent average. Max 15.
func volumeScore(volumeRatio float64) float64 {
	switch {
	case volumeRatio >= 1.5 && volumeRatio <= 3.0:
		return 15.0 - math.Abs(volumeRatio-2.25)/0.75*2.0
	case volumeRatio >= 1.0 && volumeRatio < 1.5:
		return 8.0 + (volumeRatio-1.0)*14.0
	case volumeRatio > 3.0 && volumeRatio <= 5.0:
		return 13.0 - (volumeRatio-3.0)/2.0*5.0
	case volumeRatio < 1.0:
		return math.Max(3.0, 8.0*volumeRatio)
	default:
		return 3.0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
