package engine

import (
	"time"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/papertrade/pkg/converter"
	"github.com/erain9/papertrade/pkg/core"
)

// TriggerCondition is the live monitoring state for one conditional
// order: the price level to watch, the resultant order side, and for
// trailing stops the best price observed so far. Unlike the converter's
// pure functions it mutates in place as quotes arrive.
type TriggerCondition struct {
	OrderID       string
	Symbol        string
	TriggerType   core.OrderType
	TriggerPrice  fpdecimal.Decimal
	OrderType     core.OrderType
	HighWaterMark *fpdecimal.Decimal
	LowWaterMark  *fpdecimal.Decimal
	CreatedAt     time.Time

	// order is the snapshot the condition was built from; trailing-stop
	// recalculation reads trail parameters from it
	order *core.Order
}

// NewTriggerCondition builds the monitoring state for a conditional
// order. Stop-loss and stop-limit conditions watch the order's stop
// price; trailing stops start with a zero placeholder that the first
// quote replaces.
func NewTriggerCondition(order *core.Order) (*TriggerCondition, error) {
	var triggerPrice fpdecimal.Decimal

	switch order.OrderType {
	case core.TypeStopLoss, core.TypeStopLimit:
		if order.StopPrice == nil {
			return nil, core.NewConversionError(order.ID, core.ErrMissingStopPrice,
				"%s order has no stop price", order.OrderType)
		}
		triggerPrice = *order.StopPrice
	case core.TypeTrailingStop:
		// Set dynamically from the first observed quote
		triggerPrice = fpdecimal.Zero
	default:
		return nil, core.NewExecutionError(order.ID, core.ErrInvalidOrderType,
			"unsupported order type %s", order.OrderType)
	}

	resultType := core.TypeSell
	if !order.IsProtective() {
		resultType = core.TypeBuy
	}

	return &TriggerCondition{
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		TriggerType:  order.OrderType,
		TriggerPrice: triggerPrice,
		OrderType:    resultType,
		CreatedAt:    time.Now().UTC(),
		order:        order.Clone(),
	}, nil
}

// protective reports the sign convention of the monitored order; the
// resultant order side encodes it
func (c *TriggerCondition) protective() bool {
	return c.OrderType == core.TypeSell
}

// ShouldTrigger reports whether the given price reaches the trigger
// level. An unset trailing trigger (zero placeholder) never fires.
func (c *TriggerCondition) ShouldTrigger(price fpdecimal.Decimal) bool {
	if c.TriggerPrice.Equal(fpdecimal.Zero) {
		return false
	}
	return core.StopTriggered(c.protective(), price, c.TriggerPrice)
}

// UpdateTrailingStop recalculates the trigger price of a trailing
// condition for the observed price, maintaining the water mark. The
// trigger only tightens toward the favorable side. Returns whether the
// trigger price changed.
func (c *TriggerCondition) UpdateTrailingStop(price fpdecimal.Decimal, order *core.Order) bool {
	if c.TriggerType != core.TypeTrailingStop {
		return false
	}

	if c.protective() {
		if c.HighWaterMark == nil || price.GreaterThan(*c.HighWaterMark) {
			c.HighWaterMark = core.DecimalPtr(price)
		}

		candidate := converter.TrailingStopCandidate(order, price)
		if c.TriggerPrice.Equal(fpdecimal.Zero) || candidate.GreaterThan(c.TriggerPrice) {
			c.TriggerPrice = candidate
			return true
		}
		return false
	}

	if c.LowWaterMark == nil || price.LessThan(*c.LowWaterMark) {
		c.LowWaterMark = core.DecimalPtr(price)
	}

	candidate := converter.TrailingStopCandidate(order, price)
	if c.TriggerPrice.Equal(fpdecimal.Zero) || candidate.LessThan(c.TriggerPrice) {
		c.TriggerPrice = candidate
		return true
	}
	return false
}
