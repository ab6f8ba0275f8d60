package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Safety / control errors
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrEmergencyStop     = errors.New("kill switch is tripped")
	ErrCooldownActive    = errors.New("symbol is cooling down")
	ErrQueueFull         = errors.New("request queue is full")

	// Position errors
	ErrPositionExists   = errors.New("position already open for symbol")
	ErrPositionNotFound = errors.New("no open position for symbol")

	// Broker Specific Errors
	ErrBrokerUnavailable = errors.New("brokerage API is unavailable")
	ErrConnectionFailed  = errors.New("failed to connect to the brokerage")
	ErrRateLimited       = errors.New("API rate limit exceeded")
	ErrAuthFailed        = errors.New("brokerage authentication failed (check API keys)")
	ErrInsufficientFunds = errors.New("insufficient funds for operation")
	ErrOrderRejected     = errors.New("order rejected by the brokerage")
	ErrOrderNotFound     = errors.New("order not found at the brokerage")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
	ErrDeleteFailed   = errors.New("database delete failed")
)
