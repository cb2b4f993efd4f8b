package usecase

import "errors"

// Validation failures keep an order from ever leaving PENDING.
var (
	ErrSizeNotPositive    = errors.New("order size must be positive")
	ErrBaseAmountRange    = errors.New("base amount outside exchange unit range")
	ErrPriceNotPositive   = errors.New("order price must be positive")
	ErrBelowMinBase       = errors.New("size below market minimum base amount")
	ErrBelowMinQuote      = errors.New("order value below market minimum quote amount")
	ErrSlippageExceeded   = errors.New("current price outside slippage tolerance")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotCancelable = errors.New("order is not active")
)
