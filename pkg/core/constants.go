package core

import "errors"

// Errors
var (
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrInvalidOrderType       = errors.New("invalid order type")
	ErrMissingStopPrice       = errors.New("missing stop price")
	ErrMissingLimitPrice      = errors.New("missing limit price")
	ErrConflictingTrailParams = errors.New("exactly one of trail percent and trail amount must be set")
	ErrOrderExists            = errors.New("order exists")
	ErrNonexistentOrder       = errors.New("nonexistent order")
	ErrMissingOrderID         = errors.New("missing order id")
)
