package domain

import "errors"

// Errores del engine. Los callers clasifican con errors.Is; el detalle va
// envuelto con fmt.Errorf("%w: ...").
var (
	ErrInvalidConfig        = errors.New("invalid market config")
	ErrMarketClosed         = errors.New("market closed")
	ErrMarketNotResolvable  = errors.New("market not resolvable")
	ErrInsufficientReserve  = errors.New("insufficient reserve")
	ErrSlippageExceeded     = errors.New("slippage exceeded")
	ErrDepositTooLow        = errors.New("deposit too low")
	ErrWindowExpired        = errors.New("dispute window expired")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidAccount       = errors.New("invalid account")
	ErrNotFound             = errors.New("not found")
	ErrNotEligible          = errors.New("market not eligible for graduation")
	ErrSettlementInProgress = errors.New("settlement in progress")
)
