package apperrors

import "errors"

// Standardized gateway errors. Gateways map venue-specific failures onto
// these so callers can branch without string matching.
var (
	ErrNotConnected          = errors.New("gateway not connected")
	ErrInstrumentNotFound    = errors.New("instrument not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)
