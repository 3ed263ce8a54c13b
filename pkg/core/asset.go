package core

import (
	"fmt"
	"strings"
)

// AssetDelimiter separates base and quote in a canonical symbol
const AssetDelimiter = "-"

// Asset is a typed reference to a tradable instrument, resolved from a
// canonical symbol such as "BTC-USDT"
type Asset struct {
	Symbol string
	Base   string
	Quote  string
}

// ParseAsset resolves a canonical symbol into a typed asset reference
func ParseAsset(symbol string) (Asset, error) {
	parts := strings.Split(symbol, AssetDelimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Asset{}, fmt.Errorf("invalid symbol %q: expected BASE%sQUOTE", symbol, AssetDelimiter)
	}

	return Asset{
		Symbol: symbol,
		Base:   strings.ToUpper(parts[0]),
		Quote:  strings.ToUpper(parts[1]),
	}, nil
}

// External returns the symbol in the compact form used by external
// market-data APIs, e.g. "BTCUSDT"
func (a Asset) External() string {
	return a.Base + a.Quote
}

// String implements Stringer interface
func (a Asset) String() string {
	return a.Symbol
}
