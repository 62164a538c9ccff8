package domain

import "errors"

var (
	// Recoverable market-data / venue conditions.
	ErrStaleData        = errors.New("market data stale")
	ErrVenueUnavailable = errors.New("venue unavailable")

	// Execution failures surfaced to history.
	ErrPartialFillTimeout  = errors.New("partial fill timeout")
	ErrExclusivityConflict = errors.New("order already active for symbol")
	ErrImbalanceExceeded   = errors.New("leg imbalance exceeds maximum")
	ErrLiquidationRisk     = errors.New("liquidation proximity")

	// Venue order rejections.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrVenueRejected       = errors.New("venue rejected order")

	// Store / infrastructure.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
)
