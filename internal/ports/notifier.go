package ports

import (
	"context"

	"scalpbot/internal/domain"
)

// Notifier delivers trading events to an external channel. Implementations
// must never block trading: delivery failures are logged and swallowed.
type Notifier interface {
	// NotifyBuy announces a filled entry.
	NotifyBuy(ctx context.Context, pos *domain.Position)
	// NotifySell announces a closed position.
	NotifySell(ctx context.Context, trade *domain.Trade)
	// NotifyEmergency announces a kill switch trip.
	NotifyEmergency(ctx context.Context, reason string)
	// NotifyModeChange announces an adaptive mode switch.
	NotifyModeChange(ctx context.Context, from, to domain.TradingMode, reason string)
	// NotifyDailyReport sends the end-of-day summary.
	NotifyDailyReport(ctx context.Context, summary *domain.DailySummary)
}
