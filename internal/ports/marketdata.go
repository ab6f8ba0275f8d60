package ports

import (
	"context"

	"scalpbot/internal/domain"
)

// UniverseProvider returns the symbols eligible for scanning this cycle.
type UniverseProvider interface {
	// Candidates returns the current scan universe with fresh indicator
	// snapshots attached.
	Candidates(ctx context.Context) ([]*domain.Candidate, error)
}

// Scorer grades a candidate on its indicator snapshot.
type Scorer interface {
	// Score computes the rule-based score for a candidate.
	Score(c *domain.Candidate) *domain.Score
}

// TickHandler receives streamed price updates.
type TickHandler func(tick domain.PriceTick)

// PriceFeed streams realtime prices for subscribed symbols.
type PriceFeed interface {
	// Subscribe registers interest in a symbol's price stream.
	Subscribe(ctx context.Context, symbol string) error
	// Unsubscribe drops a symbol's price stream.
	Unsubscribe(ctx context.Context, symbol string) error
	// Start begins delivering ticks to the handler until ctx is cancelled.
	Start(ctx context.Context, handler TickHandler) error
	// Close tears down the connection.
	Close() error
}

// MarketMonitor tracks broad market conditions used for gating entries.
type MarketMonitor interface {
	// State returns the latest observed market state.
	State(ctx context.Context) (*domain.MarketState, error)
}
