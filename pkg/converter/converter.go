// Package converter implements conversion of conditional orders into
// directly executable market and limit orders.
package converter

import (
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erain9/papertrade/pkg/core"
)

// ConvertedIDSuffix is appended to the original order id to form the id
// of the converted order
const ConvertedIDSuffix = "_converted"

var (
	one         = fpdecimal.FromInt(1)
	percentUnit = fpdecimal.FromFloat(0.01)
)

// Conversion records a single successful conversion
type Conversion struct {
	OriginalOrder  *core.Order
	ConvertedOrder *core.Order
	TriggerPrice   fpdecimal.Decimal
	ConvertedAt    time.Time
}

// Converter converts conditional orders into executable orders and keeps
// a history of conversions keyed by the original order id
type Converter struct {
	mu      sync.Mutex
	history map[string]*Conversion
	logger  zerolog.Logger
}

// NewConverter creates a new Converter
func NewConverter() *Converter {
	return &Converter{
		history: make(map[string]*Conversion),
		logger:  log.With().Str("component", "OrderConverter").Logger(),
	}
}

// CanConvertOrder returns true if the order type supports conversion
func (c *Converter) CanConvertOrder(order *core.Order) bool {
	return order.OrderType.IsConditional()
}

// GetConversionRequirements returns the fields required to convert the
// given order type. Unknown types yield an empty map.
func (c *Converter) GetConversionRequirements(orderType core.OrderType) map[string]bool {
	switch orderType {
	case core.TypeStopLoss:
		return map[string]bool{"stop_price": true}
	case core.TypeStopLimit:
		return map[string]bool{"stop_price": true, "price": true}
	case core.TypeTrailingStop:
		return map[string]bool{"trail_percent_or_trail_amount": true}
	default:
		return map[string]bool{}
	}
}

// ValidateOrderForConversion checks that the order carries every field
// its type needs for conversion
func (c *Converter) ValidateOrderForConversion(order *core.Order) error {
	if !c.CanConvertOrder(order) {
		return core.NewConversionError(order.ID, core.ErrInvalidOrderType,
			"order type %s is not convertible", order.OrderType)
	}

	switch order.OrderType {
	case core.TypeStopLoss:
		if order.StopPrice == nil {
			return core.NewConversionError(order.ID, core.ErrMissingStopPrice,
				"stop-loss order requires a stop price")
		}
	case core.TypeStopLimit:
		if order.StopPrice == nil {
			return core.NewConversionError(order.ID, core.ErrMissingStopPrice,
				"stop-limit order requires a stop price")
		}
		if order.Price == nil {
			return core.NewConversionError(order.ID, core.ErrMissingLimitPrice,
				"stop-limit order requires a limit price")
		}
	case core.TypeTrailingStop:
		if (order.TrailPercent == nil) == (order.TrailAmount == nil) {
			return core.NewConversionError(order.ID, core.ErrConflictingTrailParams,
				"trailing-stop order requires exactly one of trail percent and trail amount")
		}
	}

	return nil
}

// ConvertStopLossToMarket converts a triggered stop-loss into a market
// order. A zero ts defaults to the current time.
func (c *Converter) ConvertStopLossToMarket(order *core.Order, price fpdecimal.Decimal, ts time.Time) (*core.Order, error) {
	if order.OrderType != core.TypeStopLoss {
		return nil, core.NewConversionError(order.ID, core.ErrInvalidOrderType,
			"expected STOP_LOSS order, got %s", order.OrderType)
	}

	if order.StopPrice == nil {
		return nil, core.NewConversionError(order.ID, core.ErrMissingStopPrice,
			"stop-loss order has no stop price")
	}

	if !core.StopTriggered(order.IsProtective(), price, *order.StopPrice) {
		return nil, core.NewConversionError(order.ID, nil,
			"stop not reached: price=%s stop_price=%s protective=%v",
			price, *order.StopPrice, order.IsProtective())
	}

	converted := c.executableOrder(order, ts)
	converted.Condition = core.ConditionMarket

	c.recordConversion(order, converted, price)
	return converted, nil
}

// ConvertStopLimitToLimit converts a triggered stop-limit into a limit
// order at the original limit price
func (c *Converter) ConvertStopLimitToLimit(order *core.Order, price fpdecimal.Decimal, ts time.Time) (*core.Order, error) {
	if order.OrderType != core.TypeStopLimit {
		return nil, core.NewConversionError(order.ID, core.ErrInvalidOrderType,
			"expected STOP_LIMIT order, got %s", order.OrderType)
	}

	if order.StopPrice == nil {
		return nil, core.NewConversionError(order.ID, core.ErrMissingStopPrice,
			"stop-limit order has no stop price")
	}

	if order.Price == nil {
		return nil, core.NewConversionError(order.ID, core.ErrMissingLimitPrice,
			"stop-limit order has no limit price")
	}

	if !core.StopTriggered(order.IsProtective(), price, *order.StopPrice) {
		return nil, core.NewConversionError(order.ID, nil,
			"stop not reached: price=%s stop_price=%s protective=%v",
			price, *order.StopPrice, order.IsProtective())
	}

	converted := c.executableOrder(order, ts)
	converted.Price = core.DecimalPtr(*order.Price)
	converted.Condition = core.ConditionLimit

	c.recordConversion(order, converted, price)
	return converted, nil
}

// ConvertTrailingStopToMarket converts a triggered trailing-stop into a
// market order. The resultant side follows the same sign rule as
// stop-loss conversion: non-negative quantity sells, negative buys.
func (c *Converter) ConvertTrailingStopToMarket(order *core.Order, price fpdecimal.Decimal, ts time.Time) (*core.Order, error) {
	if order.OrderType != core.TypeTrailingStop {
		return nil, core.NewConversionError(order.ID, core.ErrInvalidOrderType,
			"expected TRAILING_STOP order, got %s", order.OrderType)
	}

	converted := c.executableOrder(order, ts)
	converted.Condition = core.ConditionMarket

	c.recordConversion(order, converted, price)
	return converted, nil
}

// UpdateTrailingStop recomputes the stop price of a trailing-stop order
// for the observed price and returns an updated copy. The stop only
// tightens: protective stops never lower, buy-stops never raise.
func (c *Converter) UpdateTrailingStop(order *core.Order, price fpdecimal.Decimal) (*core.Order, error) {
	if order.OrderType != core.TypeTrailingStop {
		return nil, core.NewConversionError(order.ID, core.ErrInvalidOrderType,
			"expected TRAILING_STOP order, got %s", order.OrderType)
	}

	if (order.TrailPercent == nil) == (order.TrailAmount == nil) {
		return nil, core.NewConversionError(order.ID, core.ErrConflictingTrailParams,
			"trailing-stop order requires exactly one of trail percent and trail amount")
	}

	candidate := TrailingStopCandidate(order, price)

	updated := order.Clone()
	if order.StopPrice == nil {
		updated.StopPrice = core.DecimalPtr(candidate)
		return updated, nil
	}

	if order.IsProtective() {
		if candidate.GreaterThan(*order.StopPrice) {
			updated.StopPrice = core.DecimalPtr(candidate)
		}
	} else {
		if candidate.LessThan(*order.StopPrice) {
			updated.StopPrice = core.DecimalPtr(candidate)
		}
	}

	return updated, nil
}

// TrailingStopCandidate computes the stop price a trailing-stop order
// would carry if it were (re)anchored at the given price
func TrailingStopCandidate(order *core.Order, price fpdecimal.Decimal) fpdecimal.Decimal {
	if order.IsProtective() {
		if order.TrailPercent != nil {
			return price.Mul(one.Sub(order.TrailPercent.Mul(percentUnit)))
		}
		return price.Sub(*order.TrailAmount)
	}

	if order.TrailPercent != nil {
		return price.Mul(one.Add(order.TrailPercent.Mul(percentUnit)))
	}
	return price.Add(*order.TrailAmount)
}

// GetConversionHistory returns the recorded conversion for the given
// original order id, or nil if none was recorded
func (c *Converter) GetConversionHistory(orderID string) *Conversion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history[orderID]
}

// executableOrder builds the executable counterpart of a conditional
// order: absolute quantity, resultant side by the protective sign rule,
// condition-specific fields cleared
func (c *Converter) executableOrder(order *core.Order, ts time.Time) *core.Order {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	orderType := core.TypeSell
	if !order.IsProtective() {
		orderType = core.TypeBuy
	}

	convertedID := ""
	if order.ID != "" {
		convertedID = order.ID + ConvertedIDSuffix
	}

	return &core.Order{
		ID:        convertedID,
		Symbol:    order.Symbol,
		OrderType: orderType,
		Quantity:  order.AbsQuantity(),
		Status:    core.StatusPending,
		CreatedAt: ts,
	}
}

func (c *Converter) recordConversion(original, converted *core.Order, price fpdecimal.Decimal) {
	if original.ID != "" {
		c.mu.Lock()
		c.history[original.ID] = &Conversion{
			OriginalOrder:  original.Clone(),
			ConvertedOrder: converted.Clone(),
			TriggerPrice:   price,
			ConvertedAt:    time.Now().UTC(),
		}
		c.mu.Unlock()
	}

	c.logger.Info().
		Str("order_id", original.ID).
		Str("order_type", string(original.OrderType)).
		Str("symbol", original.Symbol).
		Str("converted_type", string(converted.OrderType)).
		Str("trigger_price", price.String()).
		Msg("Converted conditional order")
}
