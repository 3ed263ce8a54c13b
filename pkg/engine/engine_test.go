package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/papertrade/pkg/backend/memory"
	"github.com/erain9/papertrade/pkg/converter"
	"github.com/erain9/papertrade/pkg/core"
)

// mockQuoteSource serves fixed prices per symbol
type mockQuoteSource struct {
	mu     sync.Mutex
	prices map[string]fpdecimal.Decimal
	err    error
}

func newMockQuoteSource() *mockQuoteSource {
	return &mockQuoteSource{prices: make(map[string]fpdecimal.Decimal)}
}

func (m *mockQuoteSource) SetPrice(symbol string, price fpdecimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *mockQuoteSource) GetQuote(_ context.Context, symbol string) (*core.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	price, ok := m.prices[symbol]
	if !ok {
		return nil, nil
	}
	return &core.Quote{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()}, nil
}

var _ QuoteSource = (*mockQuoteSource)(nil)

func newTestEngine(t *testing.T) (*Engine, *memory.MemoryStore, *mockQuoteSource, *MockExecutionSink) {
	t.Helper()
	store := memory.NewMemoryStore()
	quotes := newMockQuoteSource()
	sink := NewMockExecutionSink()
	eng := NewEngine(converter.NewConverter(), store, quotes, sink, 10*time.Millisecond)
	return eng, store, quotes, sink
}

func TestAddAndRemoveOrder(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	order, err := core.NewStopLossOrder("sl-1", "BTC-USDT", fpdecimal.FromInt(100), fpdecimal.FromFloat(150.0))
	require.NoError(t, err)
	require.NoError(t, eng.AddOrder(order))

	status := eng.GetStatus()
	assert.Equal(t, []string{"BTC-USDT"}, status.MonitoredSymbols)
	assert.Equal(t, 1, status.ActiveConditions)

	monitored := eng.GetMonitoredOrders()
	require.Len(t, monitored["BTC-USDT"], 1)
	cond := monitored["BTC-USDT"][0]
	assert.Equal(t, "sl-1", cond.OrderID)
	assert.Equal(t, core.TypeSell, cond.OrderType)
	assert.True(t, cond.TriggerPrice.Equal(fpdecimal.FromFloat(150.0)))

	eng.RemoveOrder("sl-1")
	status = eng.GetStatus()
	assert.Empty(t, status.MonitoredSymbols)
	assert.Zero(t, status.ActiveConditions)
	assert.Empty(t, eng.GetMonitoredOrders())

	// Removing again is a no-op
	eng.RemoveOrder("sl-1")
}

func TestAddOrderRejectsUnsupportedTypes(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	market, err := core.NewMarketOrder("m-1", "BTC-USDT", core.TypeBuy, fpdecimal.FromInt(10))
	require.NoError(t, err)

	err = eng.AddOrder(market)
	require.Error(t, err)
	var execErr *core.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestAddOrderRejectsInvalidConditional(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	pct := fpdecimal.FromFloat(5.0)
	order, err := core.NewTrailingStopOrder("ts-1", "BTC-USDT", fpdecimal.FromInt(100), &pct, nil)
	require.NoError(t, err)
	order.TrailAmount = core.DecimalPtr(fpdecimal.FromFloat(2.0))

	err = eng.AddOrder(order)
	require.Error(t, err)
	var execErr *core.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.ErrorIs(t, err, core.ErrConflictingTrailParams)
}

func TestStopLossTriggering(t *testing.T) {
	eng, store, _, sink := newTestEngine(t)
	ctx := context.Background()

	order, err := core.NewStopLossOrder("sl-1", "BTC-USDT", fpdecimal.FromInt(100), fpdecimal.FromFloat(150.0))
	require.NoError(t, err)
	require.NoError(t, store.StoreOrder(ctx, order))
	require.NoError(t, eng.AddOrder(order))

	// Above the stop: nothing happens
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromFloat(151.0))
	assert.Empty(t, sink.Executed())
	assert.Equal(t, 1, eng.GetStatus().ActiveConditions)

	// At or below the stop: converted and forwarded
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromFloat(149.0))

	executed := sink.Executed()
	require.Len(t, executed, 1)
	assert.Equal(t, "sl-1_converted", executed[0].ID)
	assert.Equal(t, core.TypeSell, executed[0].OrderType)
	assert.Equal(t, core.ConditionMarket, executed[0].Condition)
	assert.True(t, executed[0].Quantity.Equal(fpdecimal.FromInt(100)))

	// Condition left monitoring
	status := eng.GetStatus()
	assert.Zero(t, status.ActiveConditions)
	assert.Empty(t, status.MonitoredSymbols)
	assert.Equal(t, int64(1), status.OrdersTriggered)

	// Trigger was persisted
	stored, err := store.GetOrder(ctx, "sl-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusTriggered, stored.Status)
	assert.NotNil(t, stored.TriggeredAt)
}

func TestBuyStopTriggering(t *testing.T) {
	eng, store, _, sink := newTestEngine(t)
	ctx := context.Background()

	order, err := core.NewStopLossOrder("bs-1", "BTC-USDT", fpdecimal.FromInt(-50), fpdecimal.FromFloat(150.0))
	require.NoError(t, err)
	require.NoError(t, store.StoreOrder(ctx, order))
	require.NoError(t, eng.AddOrder(order))

	// Below the stop: buy-stop does not fire
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromFloat(149.0))
	assert.Empty(t, sink.Executed())

	// At or above: fires and buys back the absolute quantity
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromFloat(150.0))
	executed := sink.Executed()
	require.Len(t, executed, 1)
	assert.Equal(t, core.TypeBuy, executed[0].OrderType)
	assert.True(t, executed[0].Quantity.Equal(fpdecimal.FromInt(50)))
}

func TestTrailingStopFlow(t *testing.T) {
	eng, store, _, sink := newTestEngine(t)
	ctx := context.Background()

	pct := fpdecimal.FromFloat(5.0)
	order, err := core.NewTrailingStopOrder("ts-1", "BTC-USDT", fpdecimal.FromInt(100), &pct, nil)
	require.NoError(t, err)
	require.NoError(t, store.StoreOrder(ctx, order))
	require.NoError(t, eng.AddOrder(order))

	// First quote anchors the trigger: 170 * 0.95 = 161.5
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromFloat(170.0))
	assert.Empty(t, sink.Executed())

	monitored := eng.GetMonitoredOrders()
	require.Len(t, monitored["BTC-USDT"], 1)
	cond := monitored["BTC-USDT"][0]
	assert.True(t, cond.TriggerPrice.Equal(fpdecimal.FromFloat(161.5)),
		"trigger = %s, want 161.5", cond.TriggerPrice)
	require.NotNil(t, cond.HighWaterMark)
	assert.True(t, cond.HighWaterMark.Equal(fpdecimal.FromFloat(170.0)))

	// Mild pullback above the trigger: no change, no fire
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromFloat(165.0))
	assert.Empty(t, sink.Executed())
	monitored = eng.GetMonitoredOrders()
	assert.True(t, monitored["BTC-USDT"][0].TriggerPrice.Equal(fpdecimal.FromFloat(161.5)))

	// Drop through the trigger: converted to a market sell
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromFloat(161.0))
	executed := sink.Executed()
	require.Len(t, executed, 1)
	assert.Equal(t, core.TypeSell, executed[0].OrderType)
	assert.Equal(t, core.ConditionMarket, executed[0].Condition)
	assert.Nil(t, executed[0].StopPrice)
	assert.Nil(t, executed[0].TrailPercent)
}

func TestTriggeredOrderMissingFromStorage(t *testing.T) {
	eng, _, _, sink := newTestEngine(t)
	ctx := context.Background()

	order, err := core.NewStopLossOrder("ghost-1", "BTC-USDT", fpdecimal.FromInt(100), fpdecimal.FromFloat(150.0))
	require.NoError(t, err)
	require.NoError(t, eng.AddOrder(order))

	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromFloat(140.0))

	// Logged and dropped without touching counters or the sink
	assert.Empty(t, sink.Executed())
	status := eng.GetStatus()
	assert.Zero(t, status.OrdersTriggered)
	assert.Zero(t, status.OrdersProcessed)
}

func TestStartRestoresPendingOrders(t *testing.T) {
	eng, store, quotes, _ := newTestEngine(t)
	ctx := context.Background()

	order, err := core.NewStopLossOrder("sl-1", "BTC-USDT", fpdecimal.FromInt(100), fpdecimal.FromFloat(150.0))
	require.NoError(t, err)
	require.NoError(t, store.StoreOrder(ctx, order))

	filled, err := core.NewStopLossOrder("sl-2", "ETH-USDT", fpdecimal.FromInt(10), fpdecimal.FromFloat(90.0))
	require.NoError(t, err)
	filled.Status = core.StatusFilled
	require.NoError(t, store.StoreOrder(ctx, filled))

	quotes.SetPrice("BTC-USDT", fpdecimal.FromFloat(155.0))

	require.NoError(t, eng.Start(ctx))
	defer func() { require.NoError(t, eng.Stop(ctx)) }()

	// Idempotent start
	require.NoError(t, eng.Start(ctx))

	status := eng.GetStatus()
	assert.True(t, status.IsRunning)
	assert.Equal(t, 1, status.ActiveConditions)
	assert.Equal(t, []string{"BTC-USDT"}, status.MonitoredSymbols)
}

func TestMonitoringLoopTriggersOrder(t *testing.T) {
	eng, store, quotes, sink := newTestEngine(t)
	ctx := context.Background()

	order, err := core.NewStopLossOrder("sl-1", "BTC-USDT", fpdecimal.FromInt(100), fpdecimal.FromFloat(150.0))
	require.NoError(t, err)
	require.NoError(t, store.StoreOrder(ctx, order))

	quotes.SetPrice("BTC-USDT", fpdecimal.FromFloat(149.0))

	require.NoError(t, eng.Start(ctx))
	defer func() { require.NoError(t, eng.Stop(ctx)) }()

	assert.Eventually(t, func() bool {
		return len(sink.Executed()) == 1
	}, 2*time.Second, 10*time.Millisecond, "monitoring loop should trigger the order")
}

func TestStopIsIdempotent(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Stop(ctx))

	require.NoError(t, eng.Start(ctx))
	require.NoError(t, eng.Stop(ctx))
	require.NoError(t, eng.Stop(ctx))
	assert.False(t, eng.GetStatus().IsRunning)
}
