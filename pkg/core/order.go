package core

import (
	"encoding/json"
	"time"

	"github.com/nikolaydubina/fpdecimal"
)

// OrderType represents type of the order
type OrderType string

// Order types. BUY and SELL are directly executable; the remaining
// types are conditional and must be converted before execution.
const (
	TypeBuy          OrderType = "BUY"
	TypeSell         OrderType = "SELL"
	TypeStopLoss     OrderType = "STOP_LOSS"
	TypeStopLimit    OrderType = "STOP_LIMIT"
	TypeTrailingStop OrderType = "TRAILING_STOP"
)

// IsConditional returns true if the order type depends on a future price condition
func (t OrderType) IsConditional() bool {
	return t == TypeStopLoss || t == TypeStopLimit || t == TypeTrailingStop
}

// Condition represents the execution condition of an order
type Condition string

// Execution conditions
const (
	ConditionMarket    Condition = "MARKET"
	ConditionLimit     Condition = "LIMIT"
	ConditionStop      Condition = "STOP"
	ConditionStopLimit Condition = "STOP_LIMIT"
)

// Status represents the lifecycle status of an order
type Status string

// Order statuses
const (
	StatusPending         Status = "PENDING"
	StatusTriggered       Status = "TRIGGERED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// IsTerminal returns true if the status admits no further transition
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Order stores information about a single order. Quantity is signed:
// a non-negative quantity marks a protective stop closing a long-biased
// position, a negative quantity marks a buy-stop covering a short.
type Order struct {
	ID           string
	Symbol       string
	OrderType    OrderType
	Quantity     fpdecimal.Decimal
	Price        *fpdecimal.Decimal
	StopPrice    *fpdecimal.Decimal
	TrailPercent *fpdecimal.Decimal
	TrailAmount  *fpdecimal.Decimal
	Condition    Condition
	Status       Status
	CreatedAt    time.Time
	TriggeredAt  *time.Time
	FilledAt     *time.Time
}

// NewMarketOrder creates a directly executable market order
func NewMarketOrder(orderID, symbol string, orderType OrderType, quantity fpdecimal.Decimal) (*Order, error) {
	if orderType != TypeBuy && orderType != TypeSell {
		return nil, ErrInvalidOrderType
	}

	if quantity.Equal(fpdecimal.Zero) {
		return nil, ErrInvalidQuantity
	}

	return &Order{
		ID:        orderID,
		Symbol:    symbol,
		OrderType: orderType,
		Quantity:  quantity,
		Condition: ConditionMarket,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewStopLossOrder creates a stop-loss order that converts to a market
// order when its stop price is reached
func NewStopLossOrder(orderID, symbol string, quantity, stopPrice fpdecimal.Decimal) (*Order, error) {
	if quantity.Equal(fpdecimal.Zero) {
		return nil, ErrInvalidQuantity
	}

	if stopPrice.LessThanOrEqual(fpdecimal.Zero) {
		return nil, ErrInvalidPrice
	}

	return &Order{
		ID:        orderID,
		Symbol:    symbol,
		OrderType: TypeStopLoss,
		Quantity:  quantity,
		StopPrice: &stopPrice,
		Condition: ConditionStop,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewStopLimitOrder creates a stop-limit order that converts to a limit
// order at the given limit price when its stop price is reached
func NewStopLimitOrder(orderID, symbol string, quantity, limitPrice, stopPrice fpdecimal.Decimal) (*Order, error) {
	if quantity.Equal(fpdecimal.Zero) {
		return nil, ErrInvalidQuantity
	}

	if limitPrice.LessThanOrEqual(fpdecimal.Zero) || stopPrice.LessThanOrEqual(fpdecimal.Zero) {
		return nil, ErrInvalidPrice
	}

	return &Order{
		ID:        orderID,
		Symbol:    symbol,
		OrderType: TypeStopLimit,
		Quantity:  quantity,
		Price:     &limitPrice,
		StopPrice: &stopPrice,
		Condition: ConditionStopLimit,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewTrailingStopOrder creates a trailing-stop order. Exactly one of
// trailPercent and trailAmount must be non-nil.
func NewTrailingStopOrder(orderID, symbol string, quantity fpdecimal.Decimal, trailPercent, trailAmount *fpdecimal.Decimal) (*Order, error) {
	if quantity.Equal(fpdecimal.Zero) {
		return nil, ErrInvalidQuantity
	}

	if (trailPercent == nil) == (trailAmount == nil) {
		return nil, ErrConflictingTrailParams
	}

	return &Order{
		ID:           orderID,
		Symbol:       symbol,
		OrderType:    TypeTrailingStop,
		Quantity:     quantity,
		TrailPercent: trailPercent,
		TrailAmount:  trailAmount,
		Condition:    ConditionStop,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// IsProtective reports whether the order uses the protective-stop sign
// convention (quantity >= 0): it triggers on price decline. A negative
// quantity marks a buy-stop triggering on price rise. Both the converter
// and the trigger evaluator share this predicate.
func (o *Order) IsProtective() bool {
	return o.Quantity.GreaterThanOrEqual(fpdecimal.Zero)
}

// StopTriggered reports whether a stop level is reached at the given
// price. Protective stops trigger when price falls to or below the stop;
// buy-stops trigger when price rises to or above it. This is the single
// direction rule shared by conversion and live trigger evaluation.
func StopTriggered(protective bool, price, stopPrice fpdecimal.Decimal) bool {
	if protective {
		return price.LessThanOrEqual(stopPrice)
	}
	return price.GreaterThanOrEqual(stopPrice)
}

// AbsQuantity returns the unsigned magnitude of the order quantity
func (o *Order) AbsQuantity() fpdecimal.Decimal {
	if o.Quantity.LessThan(fpdecimal.Zero) {
		return fpdecimal.Zero.Sub(o.Quantity)
	}
	return o.Quantity
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	clone := *o
	clone.Price = copyDecimal(o.Price)
	clone.StopPrice = copyDecimal(o.StopPrice)
	clone.TrailPercent = copyDecimal(o.TrailPercent)
	clone.TrailAmount = copyDecimal(o.TrailAmount)
	clone.TriggeredAt = copyTime(o.TriggeredAt)
	clone.FilledAt = copyTime(o.FilledAt)
	return &clone
}

func copyDecimal(d *fpdecimal.Decimal) *fpdecimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// orderJSON is the wire representation of an Order. Decimal fields are
// serialized as strings to keep the format stable across backends.
type orderJSON struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	OrderType    OrderType  `json:"orderType"`
	Quantity     string     `json:"quantity"`
	Price        *string    `json:"price,omitempty"`
	StopPrice    *string    `json:"stopPrice,omitempty"`
	TrailPercent *string    `json:"trailPercent,omitempty"`
	TrailAmount  *string    `json:"trailAmount,omitempty"`
	Condition    Condition  `json:"condition"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	TriggeredAt  *time.Time `json:"triggeredAt,omitempty"`
	FilledAt     *time.Time `json:"filledAt,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for Order
func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:           o.ID,
		Symbol:       o.Symbol,
		OrderType:    o.OrderType,
		Quantity:     o.Quantity.String(),
		Price:        decimalToString(o.Price),
		StopPrice:    decimalToString(o.StopPrice),
		TrailPercent: decimalToString(o.TrailPercent),
		TrailAmount:  decimalToString(o.TrailAmount),
		Condition:    o.Condition,
		Status:       o.Status,
		CreatedAt:    o.CreatedAt,
		TriggeredAt:  o.TriggeredAt,
		FilledAt:     o.FilledAt,
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Order
func (o *Order) UnmarshalJSON(data []byte) error {
	var oj orderJSON
	if err := json.Unmarshal(data, &oj); err != nil {
		return err
	}

	quantity, err := fpdecimal.FromString(oj.Quantity)
	if err != nil {
		return err
	}

	o.ID = oj.ID
	o.Symbol = oj.Symbol
	o.OrderType = oj.OrderType
	o.Quantity = quantity
	o.Condition = oj.Condition
	o.Status = oj.Status
	o.CreatedAt = oj.CreatedAt
	o.TriggeredAt = oj.TriggeredAt
	o.FilledAt = oj.FilledAt

	if o.Price, err = decimalFromString(oj.Price); err != nil {
		return err
	}
	if o.StopPrice, err = decimalFromString(oj.StopPrice); err != nil {
		return err
	}
	if o.TrailPercent, err = decimalFromString(oj.TrailPercent); err != nil {
		return err
	}
	if o.TrailAmount, err = decimalFromString(oj.TrailAmount); err != nil {
		return err
	}

	return nil
}

// String implements Stringer interface
func (o *Order) String() string {
	j, _ := o.MarshalJSON()
	return string(j)
}

func decimalToString(d *fpdecimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func decimalFromString(s *string) (*fpdecimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := fpdecimal.FromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DecimalPtr is a convenience helper for building orders with optional
// decimal fields
func DecimalPtr(d fpdecimal.Decimal) *fpdecimal.Decimal {
	return &d
}
