package statemachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpbot/internal/ports"
)

// State is the system lifecycle state.
type State string

const (
	StateIdle         State = "IDLE"
	StateInitializing State = "INITIALIZING"
	StatePreMarket    State = "PRE_MARKET"
	StateTrading      State = "TRADING"
	StateClosing      State = "CLOSING"
	StatePostMarket   State = "POST_MARKET"
	StateStopped      State = "STOPPED"
	StateEmergency    State = "EMERGENCY"
)

// Transition is one accepted state change.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// Observer receives accepted transitions. Delivery is synchronous and in
// transition order.
type Observer func(t Transition)

// transitions is the forward lifecycle path. EMERGENCY entry, the
// EMERGENCY->CLOSING recovery path, and the shutdown override to STOPPED
// are handled separately in allowed.
var transitions = map[State][]State{
	StateIdle:         {StateInitializing},
	StateInitializing: {StatePreMarket},
	StatePreMarket:    {StateTrading},
	StateTrading:      {StateClosing},
	StateClosing:      {StatePostMarket},
	StatePostMarket:   {StateStopped},
}

// Machine owns the single system state and its transition history.
type Machine struct {
	logger ports.Logger

	mu        sync.Mutex
	current   State
	history   []Transition
	observers []Observer
}

// New creates a state machine starting in IDLE.
func New(logger ports.Logger) (*Machine, error) {
	if logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Machine")
	}
	return &Machine{
		logger:  logger,
		current: StateIdle,
	}, nil
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of all accepted transitions in order.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Subscribe registers an observer for future transitions. Observers are
// invoked in subscription order while the machine lock is not held.
func (m *Machine) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// TransitionTo requests a state change. An invalid transition returns
// ports.ErrInvalidTransition and leaves state unchanged.
func (m *Machine) TransitionTo(ctx context.Context, to State, reason string) error {
	const op = "statemachine.TransitionTo"

	m.mu.Lock()
	from := m.current
	if !allowed(from, to) {
		m.mu.Unlock()
		m.logger.Warn(ctx, "Rejected state transition", map[string]interface{}{
			"op": op, "from": string(from), "to": string(to), "reason": reason,
		})
		return fmt.Errorf("%s: %s -> %s: %w", op, from, to, ports.ErrInvalidTransition)
	}

	t := Transition{From: from, To: to, Reason: reason, Timestamp: time.Now()}
	m.current = to
	m.history = append(m.history, t)
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	m.logger.Info(ctx, "State transition", map[string]interface{}{
		"op": op, "from": string(from), "to": string(to), "reason": reason,
	})

	for _, obs := range observers {
		obs(t)
	}
	return nil
}

func allowed(from, to State) bool {
	if from == to {
		return false
	}
	// Shutdown override from any state.
	if to == StateStopped {
		return true
	}
	// Emergency entry and recovery are permitted regardless of current state.
	if to == StateEmergency && from != StateEmergency {
		return true
	}
	if from == StateEmergency && to == StateClosing {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
