package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpbot/internal/ports"
)

// CircuitState is the breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreakerConfig parameterizes a breaker instance.
type CircuitBreakerConfig struct {
	// Name identifies the protected operation category in logs.
	Name string
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays OPEN before allowing a probe.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of HALF_OPEN successes required to close.
	SuccessThreshold int
}

// CircuitBreaker contains transient failures for one operation category.
// It is distinct from the kill switch, which is a business-level trip.
type CircuitBreaker struct {
	cfg    CircuitBreakerConfig
	logger ports.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	probing     bool
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger ports.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		return nil, fmt.Errorf("missing required dependencies for CircuitBreaker")
	}
	if cfg.FailureThreshold <= 0 {
		return nil, fmt.Errorf("configuration FailureThreshold must be positive")
	}
	if cfg.ResetTimeout <= 0 {
		return nil, fmt.Errorf("configuration ResetTimeout must be positive")
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  CircuitClosed,
	}, nil
}

// State returns the current breaker state, applying the OPEN -> HALF_OPEN
// timeout if it has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Execute runs fn through the breaker. While OPEN it rejects immediately
// with ports.ErrCircuitOpen; in HALF_OPEN exactly one probe call is let
// through at a time.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	const op = "safety.CircuitBreaker.Execute"

	cb.mu.Lock()
	cb.maybeHalfOpen()
	switch cb.state {
	case CircuitOpen:
		cb.mu.Unlock()
		return fmt.Errorf("%s: %s: %w", op, cb.cfg.Name, ports.ErrCircuitOpen)
	case CircuitHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return fmt.Errorf("%s: %s: probe in flight: %w", op, cb.cfg.Name, ports.ErrCircuitOpen)
		}
		cb.probing = true
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err != nil {
		cb.onFailure(ctx)
		return err
	}
	cb.onSuccess(ctx)
	return nil
}

// RecordSuccess records an out-of-band success against the breaker.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	cb.onSuccess(ctx)
}

// RecordFailure records an out-of-band failure against the breaker.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	cb.onFailure(ctx)
}

// maybeHalfOpen promotes OPEN to HALF_OPEN once the reset timeout elapses.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		cb.state = CircuitHalfOpen
		cb.successes = 0
	}
}

// Caller must hold cb.mu.
func (cb *CircuitBreaker) onFailure(ctx context.Context) {
	cb.lastFailure = cb.now()
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.logger.Warn(ctx, "Circuit breaker probe failed, reopening", map[string]interface{}{
			"name": cb.cfg.Name,
		})
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = CircuitOpen
			cb.logger.Warn(ctx, "Circuit breaker opened", map[string]interface{}{
				"name": cb.cfg.Name, "failures": cb.failures,
			})
		}
	}
}

// Caller must hold cb.mu.
func (cb *CircuitBreaker) onSuccess(ctx context.Context) {
	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successes = 0
			cb.logger.Info(ctx, "Circuit breaker closed", map[string]interface{}{
				"name": cb.cfg.Name,
			})
		}
	case CircuitClosed:
		cb.failures = 0
	}
}
