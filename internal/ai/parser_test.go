package ai

import (
	"strings"
	"testing"
	"unicode/utf8"

	"scalpbot/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestParseResponse_CleanJSON(t *testing.T) {
	p := ParseResponse(`{"decision": "BUY", "confidence": 0.85, "reason": "strong momentum with volume"}`)
	assert.Equal(t, domain.DecisionBuy, p.Decision)
	assert.Equal(t, 0.85, p.Confidence)
	assert.Equal(t, "strong momentum with volume", p.Reason)
}

func TestParseResponse_StripsThinkTags(t *testing.T) {
	text := `<think>
The score is 82 which is above 75, CCI is fine.
Let me check the volume... decision should be BUY.
</think>
{"decision": "BUY", "confidence": 0.8, "reason": "score and volume align"}`
	p := ParseResponse(text)
	assert.Equal(t, domain.DecisionBuy, p.Decision)
	assert.Equal(t, 0.8, p.Confidence)
}

func TestParseResponse_SurroundingProse(t *testing.T) {
	text := `Sure! Based on the indicators, here is my analysis:
{"decision": "HOLD", "confidence": 0.6, "reason": "overheated CCI"}
Let me know if you need more detail.`
	p := ParseResponse(text)
	assert.Equal(t, domain.DecisionHold, p.Decision)
	assert.Equal(t, 0.6, p.Confidence)
}

func TestParseResponse_KeyCaseNormalized(t *testing.T) {
	p := ParseResponse(`{"Decision": "buy", "Confidence": 0.7, "Reason": "ok"}`)
	assert.Equal(t, domain.DecisionBuy, p.Decision)
	assert.Equal(t, 0.7, p.Confidence)
}

func TestParseResponse_ConfidenceClamped(t *testing.T) {
	p := ParseResponse(`{"decision": "BUY", "confidence": 1.7, "reason": "x"}`)
	assert.Equal(t, 1.0, p.Confidence)

	p = ParseResponse(`{"decision": "BUY", "confidence": -0.3, "reason": "x"}`)
	assert.Equal(t, 0.0, p.Confidence)
}

func TestParseResponse_SellMapsToSkip(t *testing.T) {
	p := ParseResponse(`{"decision": "SELL", "confidence": 0.9, "reason": "breakdown"}`)
	assert.Equal(t, domain.DecisionSkip, p.Decision)
}

func TestParseResponse_UnknownDecisionHolds(t *testing.T) {
	p := ParseResponse(`{"decision": "MAYBE", "confidence": 0.9, "reason": "??"}`)
	assert.Equal(t, domain.DecisionHold, p.Decision)
}

func TestParseResponse_KeywordFallback(t *testing.T) {
	p := ParseResponse("I would BUY this stock given the momentum.")
	assert.Equal(t, domain.DecisionBuy, p.Decision)
	assert.Equal(t, 0.5, p.Confidence)
}

func TestParseResponse_Garbage(t *testing.T) {
	for _, text := range []string{"", "42", "{broken json", "no verdict here"} {
		p := ParseResponse(text)
		assert.Equal(t, domain.DecisionHold, p.Decision, "input %q", text)
		assert.Equal(t, 0.0, p.Confidence, "input %q", text)
	}
}

func TestParseResponse_LongReasonTruncated(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "reasoning "
	}
	p := ParseResponse(`{"decision": "HOLD", "confidence": 0.5, "reason": "` + long + `"}`)
	assert.LessOrEqual(t, utf8.RuneCountInString(p.Reason), 100)
}

func TestParseResponse_KoreanReasonTruncatedOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("거래량 급증과 양봉 ", 15)
	p := ParseResponse(`{"decision": "BUY", "confidence": 0.8, "reason": "` + long + `"}`)
	assert.True(t, utf8.ValidString(p.Reason))
	assert.Equal(t, 100, utf8.RuneCountInString(p.Reason))
}
