package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpbot/internal/ports"
	"scalpbot/internal/statemachine"
)

// SafetyLevel mirrors the overall system safety state.
type SafetyLevel string

const (
	SafetyNormal    SafetyLevel = "NORMAL"
	SafetyWarning   SafetyLevel = "WARNING"
	SafetyEmergency SafetyLevel = "EMERGENCY"
)

// TripReason identifies which condition tripped the kill switch.
type TripReason string

const (
	TripIndexCrash        TripReason = "INDEX_CRASH"
	TripConsecutiveLosses TripReason = "CONSECUTIVE_LOSSES"
	TripDailyLoss         TripReason = "DAILY_LOSS"
	TripManual            TripReason = "MANUAL"
	TripBrokerFailures    TripReason = "BROKER_FAILURES"
)

// SafetyStatus is an audit snapshot of the kill switch state.
type SafetyStatus struct {
	Level             SafetyLevel
	Reason            TripReason
	Detail            string
	TrippedAt         time.Time
	ConsecutiveLosses int
	DailyPNLPct       float64
	BrokerFailures    int
	IndexChangePct    float64
}

// KillSwitchConfig holds the trip thresholds.
type KillSwitchConfig struct {
	// MaxConsecutiveLosses trips after this many losing exits in a row.
	MaxConsecutiveLosses int
	// MaxDailyLossPct trips when daily realized P&L falls to -MaxDailyLossPct.
	MaxDailyLossPct float64
	// IndexDropPct trips when the index change falls to -IndexDropPct.
	IndexDropPct float64
	// MaxBrokerFailures trips after this many consecutive broker call failures.
	MaxBrokerFailures int
	// BrokerRecoverySuccesses auto-clears a broker-failure trip after this
	// many subsequent successes. All other trips require a manual reset.
	BrokerRecoverySuccesses int
}

// KillSwitch aggregates the business-level safety trip conditions and, on
// trip, forces liquidation and the EMERGENCY state.
type KillSwitch struct {
	cfg      KillSwitchConfig
	logger   ports.Logger
	broker   ports.Broker
	notifier ports.Notifier
	machine  *statemachine.Machine
	now      func() time.Time

	mu              sync.Mutex
	level           SafetyLevel
	reason          TripReason
	detail          string
	trippedAt       time.Time
	consecLosses    int
	dailyPNLPct     float64
	brokerFailures  int
	brokerSuccesses int
	indexChangePct  float64
}

// NewKillSwitch creates a kill switch in the NORMAL state.
func NewKillSwitch(
	cfg KillSwitchConfig,
	logger ports.Logger,
	broker ports.Broker,
	notifier ports.Notifier,
	machine *statemachine.Machine,
) (*KillSwitch, error) {
	if logger == nil || broker == nil || notifier == nil || machine == nil {
		return nil, fmt.Errorf("missing required dependencies for KillSwitch")
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		return nil, fmt.Errorf("configuration MaxConsecutiveLosses must be positive")
	}
	if cfg.MaxDailyLossPct <= 0 {
		return nil, fmt.Errorf("configuration MaxDailyLossPct must be positive")
	}
	if cfg.IndexDropPct <= 0 {
		return nil, fmt.Errorf("configuration IndexDropPct must be positive")
	}
	if cfg.MaxBrokerFailures <= 0 {
		return nil, fmt.Errorf("configuration MaxBrokerFailures must be positive")
	}
	if cfg.BrokerRecoverySuccesses <= 0 {
		cfg.BrokerRecoverySuccesses = 2
	}
	return &KillSwitch{
		cfg:      cfg,
		logger:   logger,
		broker:   broker,
		notifier: notifier,
		machine:  machine,
		now:      time.Now,
		level:    SafetyNormal,
	}, nil
}

// Status returns an audit snapshot.
func (ks *KillSwitch) Status() SafetyStatus {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return SafetyStatus{
		Level:             ks.level,
		Reason:            ks.reason,
		Detail:            ks.detail,
		TrippedAt:         ks.trippedAt,
		ConsecutiveLosses: ks.consecLosses,
		DailyPNLPct:       ks.dailyPNLPct,
		BrokerFailures:    ks.brokerFailures,
		IndexChangePct:    ks.indexChangePct,
	}
}

// Tripped reports whether trading is halted.
func (ks *KillSwitch) Tripped() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.level == SafetyEmergency
}

// RecordTradeResult updates the loss streak and daily P&L from a closed trade.
func (ks *KillSwitch) RecordTradeResult(profitPct float64, win bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.dailyPNLPct += profitPct
	if win {
		ks.consecLosses = 0
	} else {
		ks.consecLosses++
	}
}

// RecordBrokerSuccess counts a successful broker call. A broker-failure trip
// auto-clears once enough successes accumulate.
func (ks *KillSwitch) RecordBrokerSuccess(ctx context.Context) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.brokerFailures = 0
	if ks.level == SafetyEmergency && ks.reason == TripBrokerFailures {
		ks.brokerSuccesses++
		if ks.brokerSuccesses >= ks.cfg.BrokerRecoverySuccesses {
			ks.level = SafetyNormal
			ks.reason = ""
			ks.detail = ""
			ks.brokerSuccesses = 0
			ks.logger.Info(ctx, "Kill switch auto-cleared after broker recovery", map[string]interface{}{
				"successes": ks.cfg.BrokerRecoverySuccesses,
			})
		}
	}
}

// RecordBrokerFailure counts a failed broker call.
func (ks *KillSwitch) RecordBrokerFailure() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.brokerFailures++
	ks.brokerSuccesses = 0
}

// UpdateIndex records the latest index change percentage.
func (ks *KillSwitch) UpdateIndex(changePct float64) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.indexChangePct = changePct
}

// TriggerManual trips the kill switch by operator request.
func (ks *KillSwitch) TriggerManual(ctx context.Context, detail string) error {
	return ks.trip(ctx, TripManual, detail)
}

// Evaluate checks all trip conditions in order and trips on the first match.
// Returns true if the kill switch is (or becomes) tripped.
func (ks *KillSwitch) Evaluate(ctx context.Context) bool {
	ks.mu.Lock()
	if ks.level == SafetyEmergency {
		ks.mu.Unlock()
		return true
	}

	var reason TripReason
	var detail string
	switch {
	case ks.indexChangePct <= -ks.cfg.IndexDropPct:
		reason = TripIndexCrash
		detail = fmt.Sprintf("index %.2f%% <= -%.2f%%", ks.indexChangePct, ks.cfg.IndexDropPct)
	case ks.consecLosses >= ks.cfg.MaxConsecutiveLosses:
		reason = TripConsecutiveLosses
		detail = fmt.Sprintf("%d consecutive losses", ks.consecLosses)
	case ks.dailyPNLPct <= -ks.cfg.MaxDailyLossPct:
		reason = TripDailyLoss
		detail = fmt.Sprintf("daily P&L %.2f%% <= -%.2f%%", ks.dailyPNLPct, ks.cfg.MaxDailyLossPct)
	case ks.brokerFailures >= ks.cfg.MaxBrokerFailures:
		reason = TripBrokerFailures
		detail = fmt.Sprintf("%d consecutive broker failures", ks.brokerFailures)
	default:
		ks.updateWarningLevel()
		ks.mu.Unlock()
		return false
	}
	ks.mu.Unlock()

	if err := ks.trip(ctx, reason, detail); err != nil {
		ks.logger.Error(ctx, err, "Kill switch trip encountered errors", map[string]interface{}{
			"reason": string(reason),
		})
	}
	return true
}

// Reset clears a trip by explicit operator action.
func (ks *KillSwitch) Reset(ctx context.Context) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.level = SafetyNormal
	ks.reason = ""
	ks.detail = ""
	ks.consecLosses = 0
	ks.brokerFailures = 0
	ks.brokerSuccesses = 0
	ks.logger.Info(ctx, "Kill switch manually reset")
}

// ResetDaily clears the daily counters at session rollover. A manual trip
// survives the rollover.
func (ks *KillSwitch) ResetDaily(ctx context.Context) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.dailyPNLPct = 0
	ks.consecLosses = 0
	ks.brokerFailures = 0
	if ks.level == SafetyEmergency && ks.reason != TripManual {
		ks.level = SafetyNormal
		ks.reason = ""
		ks.detail = ""
	}
	ks.logger.Info(ctx, "Kill switch daily counters reset")
}

// trip records the emergency, drives the state machine, and liquidates.
func (ks *KillSwitch) trip(ctx context.Context, reason TripReason, detail string) error {
	const op = "safety.KillSwitch.trip"

	ks.mu.Lock()
	if ks.level == SafetyEmergency {
		ks.mu.Unlock()
		return nil
	}
	ks.level = SafetyEmergency
	ks.reason = reason
	ks.detail = detail
	ks.trippedAt = ks.now()
	ks.mu.Unlock()

	ks.logger.Error(ctx, ports.ErrEmergencyStop, "KILL SWITCH TRIPPED", map[string]interface{}{
		"op": op, "reason": string(reason), "detail": detail,
	})
	ks.notifier.NotifyEmergency(ctx, fmt.Sprintf("%s: %s", reason, detail))

	if err := ks.machine.TransitionTo(ctx, statemachine.StateEmergency, detail); err != nil {
		ks.logger.Error(ctx, err, "Failed to enter EMERGENCY state", map[string]interface{}{"op": op})
	}

	liqErr := ks.liquidate(ctx)

	if err := ks.machine.TransitionTo(ctx, statemachine.StateClosing, "emergency liquidation"); err != nil {
		ks.logger.Error(ctx, err, "Failed to enter CLOSING state", map[string]interface{}{"op": op})
	}
	return liqErr
}

// liquidate cancels all pending orders and market-sells every position.
func (ks *KillSwitch) liquidate(ctx context.Context) error {
	const op = "safety.KillSwitch.liquidate"

	cancelled, err := ks.broker.CancelAllPendingOrders(ctx)
	if err != nil {
		ks.logger.Error(ctx, err, "Failed to cancel pending orders during liquidation", map[string]interface{}{"op": op})
	} else if cancelled > 0 {
		ks.logger.Info(ctx, "Cancelled pending orders", map[string]interface{}{"op": op, "count": cancelled})
	}

	positions, err := ks.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("%s: fetch positions: %w", op, err)
	}

	var firstErr error
	for _, pos := range positions {
		if pos.Quantity <= 0 {
			continue
		}
		res, err := ks.broker.SellMarket(ctx, pos.Symbol, pos.Quantity)
		if err != nil || !res.Success {
			if err == nil {
				err = fmt.Errorf("order rejected: %s", res.ErrorDetail)
			}
			ks.logger.Error(ctx, err, "Emergency sell failed", map[string]interface{}{
				"op": op, "symbol": pos.Symbol, "quantity": pos.Quantity,
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ks.logger.Info(ctx, "Emergency sell submitted", map[string]interface{}{
			"op": op, "symbol": pos.Symbol, "quantity": pos.Quantity, "orderID": res.OrderID,
		})
	}
	return firstErr
}

// updateWarningLevel raises WARNING when a trip condition is one step away.
// Caller must hold ks.mu.
func (ks *KillSwitch) updateWarningLevel() {
	warning := ks.consecLosses >= ks.cfg.MaxConsecutiveLosses-1 ||
		ks.dailyPNLPct <= -ks.cfg.MaxDailyLossPct*0.8 ||
		ks.brokerFailures >= ks.cfg.MaxBrokerFailures-1
	if warning {
		ks.level = SafetyWarning
	} else {
		ks.level = SafetyNormal
	}
}
