package domain

import "errors"

// Sentinel errors shared by the store adapters and the services.
// Services translate them into apperror values at the boundary.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidToken          = errors.New("invalid token symbol")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientLocked    = errors.New("insufficient locked balance")
	ErrDuplicate             = errors.New("duplicate record")
	ErrConcurrencyConflict   = errors.New("concurrent update conflict")
)
