package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrValidation         = errors.New("invalid argument")
	ErrMarketClosed       = errors.New("market is not accepting trades")
	ErrMarketOpen         = errors.New("market is still open")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrAlreadyResolved    = errors.New("market already resolved")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrConflict           = errors.New("concurrent conflict, retry")
	ErrLockHeld           = errors.New("lock already held")
)
