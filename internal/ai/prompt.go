package ai

import (
	"fmt"
	"strings"

	"scalpbot/internal/domain"
)

// BuildPrompt renders the analysis request into the model prompt. English
// phrasing and a forced JSON shape keep small local models parseable.
func BuildPrompt(req domain.AIRequest) string {
	trend := "BULLISH"
	position := "above"
	if !req.Market.AboveMA20 {
		trend = "BEARISH"
		position = "below"
	}

	var b strings.Builder
	b.WriteString("You are a Korean stock scalping trading AI. Analyze the indicators and decide whether to BUY or HOLD.\n\n")

	fmt.Fprintf(&b, "[MARKET STATUS]\n")
	fmt.Fprintf(&b, "- Index Change: %+.2f%%\n", req.Market.IndexChangePct)
	fmt.Fprintf(&b, "- Trend: %s (%s MA20)\n\n", trend, position)

	fmt.Fprintf(&b, "[STOCK INDICATORS] %s (%s)\n", req.Name, req.Symbol)
	fmt.Fprintf(&b, "- Rule-based Score: %.1f/100\n", req.RuleScore)
	fmt.Fprintf(&b, "- CCI(14): %.1f\n", req.Indicators.CCI)
	fmt.Fprintf(&b, "- Price Change: %+.2f%%\n", req.Indicators.ChangePct)
	fmt.Fprintf(&b, "- Distance from MA20: %+.2f%%\n", req.Indicators.DistanceMA20)
	fmt.Fprintf(&b, "- Volume Ratio: %.2fx\n", req.Indicators.VolumeRatio)
	fmt.Fprintf(&b, "- Consecutive Bullish Days: %d\n", req.Indicators.ConsecBullish)
	fmt.Fprintf(&b, "- Candle Quality Score: %.1f/15\n\n", req.Indicators.CandleScore)

	b.WriteString(`[DECISION RULES]
1. Score >= 75 AND CCI > -100 AND Volume > 1.0x: BUY with HIGH confidence (0.8+)
2. Score 65-74 with mixed indicators: BUY with MEDIUM confidence (0.6-0.79)
3. Poor indicators or bearish market: HOLD
4. CCI < -150 or Volume < 0.5x: HOLD (oversold or low interest)

[IMPORTANT]
- This is a SCALPING strategy targeting 0.8-1.5% profit
- Be conservative in a BEARISH market
- Respond with ONLY valid JSON, no other text

Respond with ONLY this JSON format:
{"decision": "BUY", "confidence": 0.75, "reason": "brief 10-word reason"}

Your JSON response:`)

	return b.String()
}
