package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// ModeSettings are the strategy parameters of one trading mode.
type ModeSettings struct {
	MinScore float64
	Cooldown time.Duration
}

// DefaultModeTable holds the per-mode parameter pairs.
var DefaultModeTable = map[domain.TradingMode]ModeSettings{
	domain.ModeDefensive:  {MinScore: 75, Cooldown: 15 * time.Minute},
	domain.ModeBalanced:   {MinScore: 70, Cooldown: 10 * time.Minute},
	domain.ModeAggressive: {MinScore: 65, Cooldown: 5 * time.Minute},
}

// ModeTriggers are the switch thresholds evaluated each cycle.
type ModeTriggers struct {
	// Defensive triggers. These always win.
	DefensiveConsecutiveLosses int
	DefensiveIndexDropPct      float64 // negative
	DefensiveDailyLossPct      float64 // negative
	// Return-to-balanced triggers.
	BalancedFromDefensiveWins    int
	BalancedFromAggressiveLosses int
	// Aggressive triggers.
	AggressiveDailyProfitPct  float64
	AggressiveConsecutiveWins int
	AggressiveIndexRisePct    float64
}

// DefaultModeTriggers mirrors the deployed tuning.
func DefaultModeTriggers() ModeTriggers {
	return ModeTriggers{
		DefensiveConsecutiveLosses:   3,
		DefensiveIndexDropPct:        -1.5,
		DefensiveDailyLossPct:        -1.5,
		BalancedFromDefensiveWins:    2,
		BalancedFromAggressiveLosses: 2,
		AggressiveDailyProfitPct:     1.0,
		AggressiveConsecutiveWins:    3,
		AggressiveIndexRisePct:       1.0,
	}
}

// ModeInput is the signal snapshot the controller evaluates.
type ModeInput struct {
	ConsecutiveLosses int
	ConsecutiveWins   int
	DailyProfitPct    float64
	IndexChangePct    float64
}

// AdaptiveMode selects the active trading mode from bot performance and
// market condition. Exactly one mode is active at a time.
type AdaptiveMode struct {
	table    map[domain.TradingMode]ModeSettings
	triggers ModeTriggers
	logger   ports.Logger
	notifier ports.Notifier

	mu           sync.Mutex
	current      domain.TradingMode
	winsInMode   int
	lossesInMode int
	lastChange   time.Time
}

// NewAdaptiveMode creates a controller starting in BALANCED.
func NewAdaptiveMode(triggers ModeTriggers, logger ports.Logger, notifier ports.Notifier) (*AdaptiveMode, error) {
	if logger == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for AdaptiveMode")
	}
	if triggers.DefensiveConsecutiveLosses <= 0 {
		return nil, fmt.Errorf("configuration DefensiveConsecutiveLosses must be positive")
	}
	if triggers.DefensiveIndexDropPct >= 0 || triggers.DefensiveDailyLossPct >= 0 {
		return nil, fmt.Errorf("configuration defensive percentage triggers must be negative")
	}
	return &AdaptiveMode{
		table:      DefaultModeTable,
		triggers:   triggers,
		logger:     logger,
		notifier:   notifier,
		current:    domain.ModeBalanced,
		lastChange: time.Now(),
	}, nil
}

// Current returns the active mode.
func (am *AdaptiveMode) Current() domain.TradingMode {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.current
}

// MinScore returns the active mode's entry threshold.
func (am *AdaptiveMode) MinScore() float64 {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.table[am.current].MinScore
}

// Cooldown returns the active mode's base cooldown duration.
func (am *AdaptiveMode) Cooldown() time.Duration {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.table[am.current].Cooldown
}

// RecordTradeResult tracks the win/loss streak within the current mode.
func (am *AdaptiveMode) RecordTradeResult(win bool) {
	am.mu.Lock()
	defer am.mu.Unlock()
	if win {
		am.winsInMode++
		am.lossesInMode = 0
	} else {
		am.lossesInMode++
		am.winsInMode = 0
	}
}

// Evaluate applies the switch rules in precedence order and returns the
// active mode. A switch resets the in-mode counters and is reported with
// the trigger that fired.
func (am *AdaptiveMode) Evaluate(ctx context.Context, in ModeInput) domain.TradingMode {
	am.mu.Lock()
	next, reason := am.evaluate(in)
	if next == am.current {
		am.mu.Unlock()
		return next
	}
	prev := am.current
	am.current = next
	am.winsInMode = 0
	am.lossesInMode = 0
	am.lastChange = time.Now()
	am.mu.Unlock()

	am.logger.Info(ctx, "Trading mode switched", map[string]interface{}{
		"from": string(prev), "to": string(next), "trigger": reason,
		"minScore": am.table[next].MinScore, "cooldown": am.table[next].Cooldown.String(),
	})
	am.notifier.NotifyModeChange(ctx, prev, next, reason)
	return next
}

// evaluate returns the target mode and the first trigger that matched.
// Caller must hold am.mu.
func (am *AdaptiveMode) evaluate(in ModeInput) (domain.TradingMode, string) {
	t := am.triggers

	// Defensive triggers always win.
	if in.ConsecutiveLosses >= t.DefensiveConsecutiveLosses {
		return domain.ModeDefensive, fmt.Sprintf("%d consecutive losses", in.ConsecutiveLosses)
	}
	if in.IndexChangePct <= t.DefensiveIndexDropPct {
		return domain.ModeDefensive, fmt.Sprintf("index down %.1f%%", in.IndexChangePct)
	}
	if in.DailyProfitPct <= t.DefensiveDailyLossPct {
		return domain.ModeDefensive, fmt.Sprintf("daily loss %.1f%%", in.DailyProfitPct)
	}

	// Recovery back to balanced.
	if am.current == domain.ModeDefensive && am.winsInMode >= t.BalancedFromDefensiveWins {
		return domain.ModeBalanced, fmt.Sprintf("%d wins in DEFENSIVE", am.winsInMode)
	}
	if am.current == domain.ModeAggressive && am.lossesInMode >= t.BalancedFromAggressiveLosses {
		return domain.ModeBalanced, fmt.Sprintf("%d losses in AGGRESSIVE", am.lossesInMode)
	}

	// Aggressive triggers.
	if in.DailyProfitPct >= t.AggressiveDailyProfitPct && in.ConsecutiveWins >= t.AggressiveConsecutiveWins {
		return domain.ModeAggressive, fmt.Sprintf("%d win streak, daily %+.1f%%", in.ConsecutiveWins, in.DailyProfitPct)
	}
	if in.IndexChangePct >= t.AggressiveIndexRisePct && in.DailyProfitPct >= 0 {
		return domain.ModeAggressive, fmt.Sprintf("index up %+.1f%%", in.IndexChangePct)
	}

	return am.current, ""
}

// ForceMode switches modes by operator request.
func (am *AdaptiveMode) ForceMode(ctx context.Context, mode domain.TradingMode, reason string) {
	am.mu.Lock()
	if mode == am.current {
		am.mu.Unlock()
		return
	}
	prev := am.current
	am.current = mode
	am.winsInMode = 0
	am.lossesInMode = 0
	am.lastChange = time.Now()
	am.mu.Unlock()

	am.logger.Warn(ctx, "Trading mode forced", map[string]interface{}{
		"from": string(prev), "to": string(mode), "reason": reason,
	})
	am.notifier.NotifyModeChange(ctx, prev, mode, reason)
}
