package game

import "errors"

// Validation-class errors: recovered locally as user-facing rejections with
// no table state mutated.
var (
	ErrBetOutOfRange     = errors.New("bet outside tier range")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyActioned   = errors.New("action already taken")
	ErrActionUnavailable = errors.New("action not available")
	ErrNoActiveHand      = errors.New("no active hand")
)
