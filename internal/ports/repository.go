package ports

import (
	"context"

	"scalpbot/internal/domain"
)

// PositionRepository persists the position table across process restarts.
// The position manager is the sole writer.
type PositionRepository interface {
	// SavePosition inserts or replaces the record for the position's symbol.
	SavePosition(ctx context.Context, pos *domain.Position) error
	// DeletePosition removes the record for a symbol. Deleting a missing
	// symbol is not an error.
	DeletePosition(ctx context.Context, symbol string) error
	// LoadPositions returns all persisted positions.
	LoadPositions(ctx context.Context) ([]*domain.Position, error)
}

// CooldownRepository persists the per-symbol cooldown table.
type CooldownRepository interface {
	// SaveCooldown inserts or replaces the entry for the symbol.
	SaveCooldown(ctx context.Context, entry *domain.CooldownEntry) error
	// DeleteCooldown removes the entry for a symbol.
	DeleteCooldown(ctx context.Context, symbol string) error
	// LoadCooldowns returns all persisted cooldown entries.
	LoadCooldowns(ctx context.Context) ([]*domain.CooldownEntry, error)
}

// TradeRepository stores the append-only record of closed positions.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// TodaySummary aggregates today's closed trades.
	TodaySummary(ctx context.Context) (*domain.DailySummary, error)
}
