package safety

import (
	"context"
	"testing"

	"scalpbot/internal/ports"
	"scalpbot/internal/statemachine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultKSConfig() KillSwitchConfig {
	return KillSwitchConfig{
		MaxConsecutiveLosses:    5,
		MaxDailyLossPct:         3.0,
		IndexDropPct:            2.0,
		MaxBrokerFailures:       3,
		BrokerRecoverySuccesses: 2,
	}
}

func newTestKillSwitch(t *testing.T) (*KillSwitch, *mockBroker, *mockNotifier, *statemachine.Machine) {
	t.Helper()
	machine, err := statemachine.New(&mockLogger{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, machine.TransitionTo(ctx, statemachine.StateInitializing, "test"))
	require.NoError(t, machine.TransitionTo(ctx, statemachine.StatePreMarket, "test"))
	require.NoError(t, machine.TransitionTo(ctx, statemachine.StateTrading, "test"))

	broker := &mockBroker{}
	notifier := &mockNotifier{}
	ks, err := NewKillSwitch(defaultKSConfig(), &mockLogger{}, broker, notifier, machine)
	require.NoError(t, err)
	return ks, broker, notifier, machine
}

func TestNewKillSwitch_Validation(t *testing.T) {
	machine, err := statemachine.New(&mockLogger{})
	require.NoError(t, err)

	_, err = NewKillSwitch(defaultKSConfig(), nil, &mockBroker{}, &mockNotifier{}, machine)
	require.Error(t, err)

	cfg := defaultKSConfig()
	cfg.MaxDailyLossPct = 0
	_, err = NewKillSwitch(cfg, &mockLogger{}, &mockBroker{}, &mockNotifier{}, machine)
	require.Error(t, err)
}

func TestKillSwitch_IndexCrash(t *testing.T) {
	ctx := context.Background()
	ks, broker, notifier, machine := newTestKillSwitch(t)
	broker.positions = []ports.BrokerPosition{
		{Symbol: "005930", Quantity: 10, AvgPrice: 71000},
		{Symbol: "000660", Quantity: 5, AvgPrice: 180000},
	}

	ks.UpdateIndex(-2.1)
	require.True(t, ks.Evaluate(ctx))

	status := ks.Status()
	assert.Equal(t, SafetyEmergency, status.Level)
	assert.Equal(t, TripIndexCrash, status.Reason)
	assert.False(t, status.TrippedAt.IsZero())

	// All positions liquidated, pending orders cancelled, state driven
	// through EMERGENCY to CLOSING.
	assert.Equal(t, 1, broker.cancelCalls)
	assert.ElementsMatch(t, []string{"005930", "000660"}, broker.sellOrders)
	assert.Len(t, notifier.emergencies, 1)
	assert.Equal(t, statemachine.StateClosing, machine.Current())

	history := machine.History()
	require.GreaterOrEqual(t, len(history), 2)
	assert.Equal(t, statemachine.StateEmergency, history[len(history)-2].To)
}

func TestKillSwitch_ConsecutiveLosses(t *testing.T) {
	ctx := context.Background()
	ks, _, _, _ := newTestKillSwitch(t)

	for i := 0; i < 4; i++ {
		ks.RecordTradeResult(-0.3, false)
		assert.False(t, ks.Evaluate(ctx), "should not trip at %d losses", i+1)
	}
	ks.RecordTradeResult(-0.3, false)
	require.True(t, ks.Evaluate(ctx))
	assert.Equal(t, TripConsecutiveLosses, ks.Status().Reason)
}

func TestKillSwitch_WinResetsLossStreak(t *testing.T) {
	ctx := context.Background()
	ks, _, _, _ := newTestKillSwitch(t)

	for i := 0; i < 4; i++ {
		ks.RecordTradeResult(-0.1, false)
	}
	ks.RecordTradeResult(0.5, true)
	assert.Equal(t, 0, ks.Status().ConsecutiveLosses)

	ks.RecordTradeResult(-0.1, false)
	assert.False(t, ks.Evaluate(ctx))
}

func TestKillSwitch_DailyLoss(t *testing.T) {
	ctx := context.Background()
	ks, _, _, _ := newTestKillSwitch(t)

	ks.RecordTradeResult(-1.5, false)
	ks.RecordTradeResult(1.0, true)
	ks.RecordTradeResult(-1.8, false)
	assert.False(t, ks.Evaluate(ctx))

	ks.RecordTradeResult(-0.8, false)
	require.True(t, ks.Evaluate(ctx))
	assert.Equal(t, TripDailyLoss, ks.Status().Reason)
}

func TestKillSwitch_ManualTrip(t *testing.T) {
	ctx := context.Background()
	ks, _, notifier, machine := newTestKillSwitch(t)

	require.NoError(t, ks.TriggerManual(ctx, "operator requested halt"))
	assert.True(t, ks.Tripped())
	assert.Equal(t, TripManual, ks.Status().Reason)
	assert.Len(t, notifier.emergencies, 1)
	assert.Equal(t, statemachine.StateClosing, machine.Current())

	// Manual trips survive the daily rollover and require Reset.
	ks.ResetDaily(ctx)
	assert.True(t, ks.Tripped())
	ks.Reset(ctx)
	assert.False(t, ks.Tripped())
}

func TestKillSwitch_BrokerFailureAutoClear(t *testing.T) {
	ctx := context.Background()
	ks, _, _, _ := newTestKillSwitch(t)

	for i := 0; i < 3; i++ {
		ks.RecordBrokerFailure()
	}
	require.True(t, ks.Evaluate(ctx))
	assert.Equal(t, TripBrokerFailures, ks.Status().Reason)

	// The broker-failure trip auto-clears after two subsequent successes.
	ks.RecordBrokerSuccess(ctx)
	assert.True(t, ks.Tripped())
	ks.RecordBrokerSuccess(ctx)
	assert.False(t, ks.Tripped())
	assert.Equal(t, 0, ks.Status().BrokerFailures)
}

func TestKillSwitch_BrokerSuccessResetsFailureStreak(t *testing.T) {
	ctx := context.Background()
	ks, _, _, _ := newTestKillSwitch(t)

	ks.RecordBrokerFailure()
	ks.RecordBrokerFailure()
	ks.RecordBrokerSuccess(ctx)
	ks.RecordBrokerFailure()
	ks.RecordBrokerFailure()
	assert.False(t, ks.Evaluate(ctx))
}

func TestKillSwitch_WarningLevel(t *testing.T) {
	ctx := context.Background()
	ks, _, _, _ := newTestKillSwitch(t)

	for i := 0; i < 4; i++ {
		ks.RecordTradeResult(-0.1, false)
	}
	assert.False(t, ks.Evaluate(ctx))
	assert.Equal(t, SafetyWarning, ks.Status().Level)

	ks.RecordTradeResult(1.0, true)
	assert.False(t, ks.Evaluate(ctx))
	assert.Equal(t, SafetyNormal, ks.Status().Level)
}

func TestKillSwitch_EvaluateIdempotentWhileTripped(t *testing.T) {
	ctx := context.Background()
	ks, broker, notifier, _ := newTestKillSwitch(t)
	broker.positions = []ports.BrokerPosition{
		{Symbol: "005930", Quantity: 10, AvgPrice: 71000},
	}

	ks.UpdateIndex(-3.0)
	require.True(t, ks.Evaluate(ctx))
	require.True(t, ks.Evaluate(ctx))

	// Liquidation and notification happen once.
	assert.Equal(t, 1, broker.cancelCalls)
	assert.Len(t, notifier.emergencies, 1)
}
