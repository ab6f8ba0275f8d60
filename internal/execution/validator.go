package execution

import (
	"fmt"
	"time"

	"scalpbot/internal/domain"
)

// RejectReason classifies why a price validation failed.
type RejectReason string

const (
	RejectSlippage   RejectReason = "SLIPPAGE"
	RejectPriceDrop  RejectReason = "PRICE_DROP"
	RejectStalePrice RejectReason = "STALE_PRICE"
	RejectWideSpread RejectReason = "WIDE_SPREAD"
)

// ValidationResult reports the outcome of a pre-order price check.
type ValidationResult struct {
	OK      bool
	Reason  RejectReason
	Message string
}

// PriceValidatorConfig holds the admission thresholds.
type PriceValidatorConfig struct {
	// MaxSlippagePct rejects buys when the current price has run up more
	// than this over the analysis price.
	MaxSlippagePct float64
	// MaxAge rejects when the analysis is older than this.
	MaxAge time.Duration
	// MaxSpreadPct rejects when the bid/ask spread is wider than this.
	MaxSpreadPct float64
}

// PriceValidator is the stateless admission gate run between an AI buy
// decision and order submission.
type PriceValidator struct {
	cfg PriceValidatorConfig
}

// NewPriceValidator creates a validator with the given thresholds.
func NewPriceValidator(cfg PriceValidatorConfig) (*PriceValidator, error) {
	if cfg.MaxSlippagePct <= 0 || cfg.MaxAge <= 0 || cfg.MaxSpreadPct <= 0 {
		return nil, fmt.Errorf("configuration validator thresholds must be positive")
	}
	return &PriceValidator{cfg: cfg}, nil
}

// Validate checks the current quote against the price the analysis was
// based on. A sharp drop since analysis is treated as a broken setup and
// rejected at twice the slippage tolerance.
func (v *PriceValidator) Validate(analysisPrice float64, analysisTime time.Time, quote *domain.Quote) ValidationResult {
	if analysisPrice <= 0 || quote == nil || quote.Ask <= 0 {
		return ValidationResult{Reason: RejectStalePrice, Message: "missing price data"}
	}

	age := quote.Timestamp.Sub(analysisTime)
	if age > v.cfg.MaxAge {
		return ValidationResult{
			Reason:  RejectStalePrice,
			Message: fmt.Sprintf("analysis is %.0fs old (max %.0fs)", age.Seconds(), v.cfg.MaxAge.Seconds()),
		}
	}

	current := quote.Ask
	changePct := (current - analysisPrice) / analysisPrice * 100
	if changePct > v.cfg.MaxSlippagePct {
		return ValidationResult{
			Reason:  RejectSlippage,
			Message: fmt.Sprintf("price ran up %.2f%% since analysis (max %.2f%%)", changePct, v.cfg.MaxSlippagePct),
		}
	}
	if changePct < -2*v.cfg.MaxSlippagePct {
		return ValidationResult{
			Reason:  RejectPriceDrop,
			Message: fmt.Sprintf("price dropped %.2f%% since analysis, setup broken", -changePct),
		}
	}

	if spread := quote.SpreadPct(); spread > v.cfg.MaxSpreadPct {
		return ValidationResult{
			Reason:  RejectWideSpread,
			Message: fmt.Sprintf("spread %.2f%% too wide (max %.2f%%)", spread, v.cfg.MaxSpreadPct),
		}
	}

	return ValidationResult{OK: true}
}
