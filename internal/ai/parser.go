package ai

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"scalpbot/internal/domain"
)

// Parsed is the structured decision extracted from a model response.
type Parsed struct {
	Decision   domain.Decision
	Confidence float64
	Reason     string
}

var (
	thinkTagRe   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	jsonObjectRe = regexp.MustCompile(`\{[^{}]+\}`)
	keyCaseRe    = regexp.MustCompile(`"(Decision|DECISION|Confidence|CONFIDENCE|Reason|REASON)"`)
)

// ParseResponse extracts a decision from raw model output. Reasoning tags
// are stripped before parsing; any malformed response degrades to HOLD with
// zero confidence rather than an error.
func ParseResponse(text string) Parsed {
	fallback := Parsed{Decision: domain.DecisionHold, Confidence: 0, Reason: "unparseable response"}
	if text == "" {
		fallback.Reason = "empty response"
		return fallback
	}

	text = thinkTagRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	for _, match := range jsonObjectRe.FindAllString(text, -1) {
		if parsed, ok := tryParseJSON(match); ok {
			return parsed
		}
	}

	// Last resort: pull the decision keyword out of plain text.
	return extractFromText(text)
}

type rawDecision struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func tryParseJSON(jsonStr string) (Parsed, bool) {
	normalized := keyCaseRe.ReplaceAllStringFunc(jsonStr, strings.ToLower)

	var raw rawDecision
	if err := json.Unmarshal([]byte(normalized), &raw); err != nil {
		return Parsed{}, false
	}
	if raw.Decision == "" {
		return Parsed{}, false
	}

	decision := normalizeDecision(raw.Decision)
	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Parsed{Decision: decision, Confidence: confidence, Reason: truncateReason(raw.Reason, 100)}, true
}

// truncateReason caps a rationale at max runes without splitting a
// multi-byte character.
func truncateReason(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func normalizeDecision(s string) domain.Decision {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return domain.DecisionBuy
	case "SKIP", "SELL":
		return domain.DecisionSkip
	default:
		return domain.DecisionHold
	}
}

func extractFromText(text string) Parsed {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "BUY"):
		// A bare keyword earns only minimal confidence.
		return Parsed{Decision: domain.DecisionBuy, Confidence: 0.5, Reason: "extracted from text"}
	case strings.Contains(upper, "SKIP") || strings.Contains(upper, "SELL"):
		return Parsed{Decision: domain.DecisionSkip, Confidence: 0.5, Reason: "extracted from text"}
	case strings.Contains(upper, "HOLD"):
		return Parsed{Decision: domain.DecisionHold, Confidence: 0.5, Reason: "extracted from text"}
	default:
		return Parsed{Decision: domain.DecisionHold, Confidence: 0, Reason: "unparseable response"}
	}
}
