// Package engine implements background monitoring of conditional orders:
// it polls quotes per symbol, evaluates trigger conditions, and converts
// triggered orders into executable ones.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erain9/papertrade/pkg/converter"
	"github.com/erain9/papertrade/pkg/core"
	"github.com/erain9/papertrade/pkg/otel"
)

// DefaultMonitorInterval is the default delay between monitoring passes
const DefaultMonitorInterval = 1 * time.Second

// Status is a read-only snapshot of the engine state
type Status struct {
	IsRunning            bool
	MonitoredSymbols     []string
	ActiveConditions     int
	OrdersProcessed      int64
	OrdersTriggered      int64
	LastMarketDataUpdate time.Time
}

// Engine monitors trigger conditions for conditional orders and converts
// them into executable orders when their price condition is met
type Engine struct {
	converter *converter.Converter
	store     core.OrderStore
	quotes    QuoteSource
	sink      ExecutionSink
	interval  time.Duration
	logger    zerolog.Logger

	mu                   sync.Mutex
	isRunning            bool
	conditions           map[string][]*TriggerCondition
	monitoredSymbols     map[string]struct{}
	ordersProcessed      int64
	ordersTriggered      int64
	lastMarketDataUpdate time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a new execution engine. A non-positive interval
// falls back to DefaultMonitorInterval.
func NewEngine(conv *converter.Converter, store core.OrderStore, quotes QuoteSource, sink ExecutionSink, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	return &Engine{
		converter:        conv,
		store:            store,
		quotes:           quotes,
		sink:             sink,
		interval:         interval,
		logger:           log.With().Str("component", "OrderExecutionEngine").Logger(),
		conditions:       make(map[string][]*TriggerCondition),
		monitoredSymbols: make(map[string]struct{}),
	}
}

// Start loads pending conditional orders from storage and begins the
// monitoring loop. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return nil
	}
	e.isRunning = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	pending, err := e.store.LoadOrders(ctx, core.PendingConditional)
	if err != nil {
		e.mu.Lock()
		e.isRunning = false
		e.mu.Unlock()
		return fmt.Errorf("failed to load pending conditional orders: %w", err)
	}

	for _, order := range pending {
		if err := e.AddOrder(order); err != nil {
			e.logger.Error().Err(err).Str("order_id", order.ID).
				Msg("Failed to restore conditional order, skipping")
		}
	}

	e.wg.Add(1)
	go e.run(ctx)

	e.logger.Info().
		Dur("interval", e.interval).
		Int("restored", len(pending)).
		Msg("Execution engine started")
	return nil
}

// Stop cancels the monitoring loop and waits for it to finish. Stopping
// a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return nil
	}
	e.isRunning = false
	close(e.stopCh)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info().Msg("Execution engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for execution engine to stop: %w", ctx.Err())
	}
}

// AddOrder validates a conditional order and registers its trigger
// condition for monitoring
func (e *Engine) AddOrder(order *core.Order) error {
	if !e.converter.CanConvertOrder(order) {
		return core.NewExecutionError(order.ID, core.ErrInvalidOrderType,
			"cannot monitor order type %s", order.OrderType)
	}

	if err := e.converter.ValidateOrderForConversion(order); err != nil {
		return core.NewExecutionError(order.ID, err, "order failed conversion validation")
	}

	condition, err := NewTriggerCondition(order)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.conditions[order.Symbol] = append(e.conditions[order.Symbol], condition)
	e.monitoredSymbols[order.Symbol] = struct{}{}

	e.logger.Info().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("order_type", string(order.OrderType)).
		Str("trigger_price", condition.TriggerPrice.String()).
		Msg("Monitoring conditional order")
	return nil
}

// RemoveOrder stops monitoring the order with the given id. Removing an
// unknown id is a no-op.
func (e *Engine) RemoveOrder(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for symbol, conditions := range e.conditions {
		for i, condition := range conditions {
			if condition.OrderID != orderID {
				continue
			}

			e.conditions[symbol] = append(conditions[:i], conditions[i+1:]...)
			if len(e.conditions[symbol]) == 0 {
				delete(e.conditions, symbol)
				delete(e.monitoredSymbols, symbol)
			}

			e.logger.Info().Str("order_id", orderID).Str("symbol", symbol).
				Msg("Stopped monitoring conditional order")
			return
		}
	}
}

// run is the monitoring loop
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Context cancelled, stopping monitoring loop")
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.checkAllSymbols(ctx)
		}
	}
}

// checkAllSymbols fetches a quote for every monitored symbol and
// evaluates its conditions. A failure on one symbol never aborts the
// others.
func (e *Engine) checkAllSymbols(ctx context.Context) {
	e.mu.Lock()
	symbols := make([]string, 0, len(e.monitoredSymbols))
	for symbol := range e.monitoredSymbols {
		symbols = append(symbols, symbol)
	}
	e.mu.Unlock()

	for _, symbol := range symbols {
		quote, err := e.quotes.GetQuote(ctx, symbol)
		if err != nil {
			e.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to fetch quote")
			continue
		}
		if quote == nil {
			e.logger.Warn().Str("symbol", symbol).Msg("No quote available")
			continue
		}

		e.mu.Lock()
		e.lastMarketDataUpdate = time.Now().UTC()
		e.mu.Unlock()

		e.CheckTriggerConditions(ctx, symbol, quote.Price)
	}
}

// CheckTriggerConditions evaluates the conditions of one symbol against
// the given price. Used by the monitoring loop and by push-style quote
// updates. Evaluation follows condition insertion order; triggered
// conditions leave monitoring immediately.
func (e *Engine) CheckTriggerConditions(ctx context.Context, symbol string, price fpdecimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conditions, ok := e.conditions[symbol]
	if !ok {
		return
	}

	remaining := conditions[:0]
	for _, condition := range conditions {
		if condition.TriggerType == core.TypeTrailingStop {
			condition.UpdateTrailingStop(price, condition.order)
		}

		if !condition.ShouldTrigger(price) {
			remaining = append(remaining, condition)
			continue
		}

		if err := e.processTriggeredOrder(ctx, condition, price); err != nil {
			// The condition has already left monitoring; the order stays
			// in storage for operator intervention
			e.logger.Error().Err(err).
				Str("order_id", condition.OrderID).
				Str("symbol", symbol).
				Msg("Failed to process triggered order")
		}
	}

	e.conditions[symbol] = remaining
	if len(remaining) == 0 {
		delete(e.conditions, symbol)
		delete(e.monitoredSymbols, symbol)
	}
}

// processTriggeredOrder loads the full order, converts it and forwards
// the result to the execution sink. Called with the engine lock held.
func (e *Engine) processTriggeredOrder(ctx context.Context, condition *TriggerCondition, price fpdecimal.Decimal) error {
	order, err := e.store.GetOrder(ctx, condition.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", condition.OrderID, err)
	}
	if order == nil {
		e.logger.Warn().Str("order_id", condition.OrderID).
			Msg("Triggered order not found in storage")
		return nil
	}

	e.ordersProcessed++

	now := time.Now().UTC()
	var converted *core.Order
	switch order.OrderType {
	case core.TypeStopLoss:
		converted, err = e.converter.ConvertStopLossToMarket(order, price, now)
	case core.TypeStopLimit:
		converted, err = e.converter.ConvertStopLimitToLimit(order, price, now)
	case core.TypeTrailingStop:
		converted, err = e.converter.ConvertTrailingStopToMarket(order, price, now)
	default:
		err = core.NewExecutionError(order.ID, core.ErrInvalidOrderType,
			"unsupported order type %s", order.OrderType)
	}
	if err != nil {
		return err
	}

	if err := e.store.UpdateOrderStatus(ctx, order.ID, core.StatusTriggered, &now, nil); err != nil {
		return fmt.Errorf("failed to persist trigger of order %s: %w", order.ID, err)
	}

	if err := e.sink.ExecuteOrder(ctx, converted); err != nil {
		return fmt.Errorf("failed to forward converted order %s: %w", converted.ID, err)
	}

	e.ordersTriggered++
	otel.GetOrderMetrics().RecordTriggered(ctx, order.Symbol, string(order.OrderType))

	e.logger.Info().
		Str("order_id", order.ID).
		Str("converted_id", converted.ID).
		Str("symbol", order.Symbol).
		Str("trigger_price", price.String()).
		Msg("Triggered and forwarded conditional order")
	return nil
}

// GetStatus returns a read-only snapshot of the engine state
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbols := make([]string, 0, len(e.monitoredSymbols))
	for symbol := range e.monitoredSymbols {
		symbols = append(symbols, symbol)
	}

	active := 0
	for _, conditions := range e.conditions {
		active += len(conditions)
	}

	return Status{
		IsRunning:            e.isRunning,
		MonitoredSymbols:     symbols,
		ActiveConditions:     active,
		OrdersProcessed:      e.ordersProcessed,
		OrdersTriggered:      e.ordersTriggered,
		LastMarketDataUpdate: e.lastMarketDataUpdate,
	}
}

// GetMonitoredOrders returns a copy of the trigger conditions per symbol
func (e *Engine) GetMonitoredOrders() map[string][]TriggerCondition {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make(map[string][]TriggerCondition, len(e.conditions))
	for symbol, conditions := range e.conditions {
		views := make([]TriggerCondition, 0, len(conditions))
		for _, condition := range conditions {
			view := *condition
			view.order = nil
			views = append(views, view)
		}
		snapshot[symbol] = views
	}
	return snapshot
}
