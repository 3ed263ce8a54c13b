package engine

import (
	"context"

	"github.com/erain9/papertrade/pkg/core"
)

// QuoteSource provides current market prices. A nil quote with nil error
// means the source has no price for the symbol.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*core.Quote, error)
}

// ExecutionSink receives converted orders ready for execution
type ExecutionSink interface {
	ExecuteOrder(ctx context.Context, order *core.Order) error
}

// SymbolResolver resolves a raw symbol string into a typed asset reference
type SymbolResolver interface {
	Resolve(symbol string) (core.Asset, error)
}
