package core

import (
	"time"

	"github.com/nikolaydubina/fpdecimal"
)

// Quote is a single observed market price for a symbol
type Quote struct {
	Symbol    string
	Price     fpdecimal.Decimal
	Timestamp time.Time
}
