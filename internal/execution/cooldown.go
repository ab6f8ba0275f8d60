package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// CooldownConfig holds the re-entry timing rules.
type CooldownConfig struct {
	// LossCooldown replaces the base duration after a losing exit.
	LossCooldown time.Duration
	// LossEscalation is added per consecutive loss on the same symbol.
	LossEscalation time.Duration
	// MaxCooldown caps the total duration.
	MaxCooldown time.Duration
}

// CooldownTracker enforces per-symbol re-entry timers after exits. The base
// duration for winning exits is supplied by the caller, which reads it from
// the active trading mode.
type CooldownTracker struct {
	cfg    CooldownConfig
	logger ports.Logger
	repo   ports.CooldownRepository
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*domain.CooldownEntry
}

// NewCooldownTracker creates a tracker and restores persisted cooldowns.
func NewCooldownTracker(ctx context.Context, cfg CooldownConfig, logger ports.Logger, repo ports.CooldownRepository) (*CooldownTracker, error) {
	if logger == nil || repo == nil {
		return nil, fmt.Errorf("missing required dependencies for CooldownTracker")
	}
	if cfg.LossCooldown <= 0 || cfg.LossEscalation < 0 || cfg.MaxCooldown <= 0 {
		return nil, fmt.Errorf("configuration cooldown durations must be positive")
	}

	ct := &CooldownTracker{
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		now:     time.Now,
		entries: make(map[string]*domain.CooldownEntry),
	}

	restored, err := repo.LoadCooldowns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore cooldowns: %w", err)
	}
	for _, entry := range restored {
		ct.entries[entry.Symbol] = entry
	}
	return ct, nil
}

// RecordExit starts (or escalates) the cooldown for a symbol after closing
// a position. baseCooldown is the active mode's duration for winning exits.
func (ct *CooldownTracker) RecordExit(ctx context.Context, symbol string, win bool, baseCooldown time.Duration) {
	const op = "execution.CooldownTracker.RecordExit"

	ct.mu.Lock()
	consecLosses := 0
	if prev, ok := ct.entries[symbol]; ok {
		consecLosses = prev.ConsecutiveLosses
	}

	var duration time.Duration
	var reason string
	if win {
		consecLosses = 0
		duration = baseCooldown
		reason = "win exit"
	} else {
		consecLosses++
		duration = ct.cfg.LossCooldown + time.Duration(consecLosses-1)*ct.cfg.LossEscalation
		reason = fmt.Sprintf("loss exit (streak %d)", consecLosses)
	}
	if duration > ct.cfg.MaxCooldown {
		duration = ct.cfg.MaxCooldown
	}

	entry := &domain.CooldownEntry{
		Symbol:            symbol,
		Until:             ct.now().Add(duration),
		Reason:            reason,
		ConsecutiveLosses: consecLosses,
	}
	ct.entries[symbol] = entry
	ct.mu.Unlock()

	if err := ct.repo.SaveCooldown(ctx, entry); err != nil {
		ct.logger.Error(ctx, err, "Failed to persist cooldown, continuing in memory", map[string]interface{}{
			"op": op, "symbol": symbol,
		})
	}
	ct.logger.Debug(ctx, "Cooldown set", map[string]interface{}{
		"op": op, "symbol": symbol, "until": entry.Until, "reason": reason,
	})
}

// CanBuy reports whether the symbol is clear for re-entry.
func (ct *CooldownTracker) CanBuy(symbol string) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	entry, ok := ct.entries[symbol]
	if !ok {
		return true
	}
	return !entry.Active(ct.now())
}

// Remaining returns the time left on a symbol's cooldown, zero if clear.
func (ct *CooldownTracker) Remaining(symbol string) time.Duration {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	entry, ok := ct.entries[symbol]
	if !ok {
		return 0
	}
	left := entry.Until.Sub(ct.now())
	if left < 0 {
		return 0
	}
	return left
}

// Clear removes the cooldown for a symbol.
func (ct *CooldownTracker) Clear(ctx context.Context, symbol string) {
	ct.mu.Lock()
	delete(ct.entries, symbol)
	ct.mu.Unlock()

	if err := ct.repo.DeleteCooldown(ctx, symbol); err != nil {
		ct.logger.Error(ctx, err, "Failed to delete persisted cooldown", map[string]interface{}{
			"symbol": symbol,
		})
	}
}

// Active returns a copy of all entries still in effect.
func (ct *CooldownTracker) Active() []*domain.CooldownEntry {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	now := ct.now()
	out := make([]*domain.CooldownEntry, 0, len(ct.entries))
	for _, entry := range ct.entries {
		if entry.Active(now) {
			snapshot := *entry
			out = append(out, &snapshot)
		}
	}
	return out
}
