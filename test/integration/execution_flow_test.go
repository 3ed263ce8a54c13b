package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erain9/papertrade/pkg/backend/memory"
	"github.com/erain9/papertrade/pkg/backend/redis"
	"github.com/erain9/papertrade/pkg/converter"
	"github.com/erain9/papertrade/pkg/core"
	"github.com/erain9/papertrade/pkg/engine"
	"github.com/erain9/papertrade/pkg/lifecycle"
	"github.com/erain9/papertrade/pkg/messaging"
	"github.com/erain9/papertrade/pkg/queue"
	"github.com/erain9/papertrade/pkg/testutil"
)

// queueingSink mirrors the production wiring: triggered orders are
// tracked in the lifecycle manager and handed to the dispatch queue.
type queueingSink struct {
	queue   *queue.OrderQueue
	manager *lifecycle.Manager
}

func (s *queueingSink) ExecuteOrder(ctx context.Context, order *core.Order) error {
	if orig := strings.TrimSuffix(order.ID, converter.ConvertedIDSuffix); orig != order.ID {
		if err := s.manager.TriggerOrder(orig, "price_monitor"); err != nil {
			return err
		}
	}
	if state := s.manager.GetOrderState(order.ID); state == nil {
		if err := s.manager.CreateOrder(order); err != nil {
			return err
		}
	}
	_, err := s.queue.EnqueueOrder(ctx, order, queue.PriorityHigh)
	return err
}

func TestStopLossEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	manager := lifecycle.NewManager()
	sender := messaging.NewMockReportSender()

	orderQueue := queue.NewOrderQueue(queue.Config{Workers: 2})
	sink := messaging.NewReportingSink(sender)
	processor := func(ctx context.Context, order *core.Order) (interface{}, error) {
		return nil, sink.ExecuteOrder(ctx, order)
	}
	orderQueue.RegisterProcessor(core.TypeBuy, processor)
	orderQueue.RegisterProcessor(core.TypeSell, processor)
	orderQueue.Start()

	eng := engine.NewEngine(converter.NewConverter(), store, nil,
		&queueingSink{queue: orderQueue, manager: manager}, time.Second)

	// Place a protective stop-loss at 95 and a trailing stop at 5%.
	stopLoss, err := core.NewStopLossOrder("sl1", "BTC-USDT",
		fpdecimal.FromInt(1), fpdecimal.FromInt(95))
	require.NoError(t, err)
	trailPct := fpdecimal.FromFloat(5.0)
	trailing, err := core.NewTrailingStopOrder("ts1", "BTC-USDT",
		fpdecimal.FromInt(2), &trailPct, nil)
	require.NoError(t, err)

	for _, order := range []*core.Order{stopLoss, trailing} {
		require.NoError(t, store.StoreOrder(ctx, order))
		require.NoError(t, manager.CreateOrder(order))
		require.NoError(t, eng.AddOrder(order))
	}

	// Rally to 110: trailing anchors at 104.5, nothing triggers.
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromInt(100))
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromInt(110))
	assert.Empty(t, sender.Reports())

	// Drop to 104: trailing stop fires, stop-loss holds.
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromInt(104))

	// Crash to 94: stop-loss fires.
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromInt(94))

	require.NoError(t, orderQueue.Stop(ctx, true))

	reports := sender.Reports()
	require.Len(t, reports, 2)
	var reportIDs []string
	for _, report := range reports {
		reportIDs = append(reportIDs, report.OrderID)
	}
	assert.ElementsMatch(t, []string{
		"ts1" + converter.ConvertedIDSuffix,
		"sl1" + converter.ConvertedIDSuffix,
	}, reportIDs)

	// Both originals are TRIGGERED in storage and in the lifecycle.
	for _, id := range []string{"sl1", "ts1"} {
		stored, err := store.GetOrder(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, core.StatusTriggered, stored.Status)

		state := manager.GetOrderState(id)
		require.NotNil(t, state)
		assert.Equal(t, core.StatusTriggered, state.CurrentStatus)
	}

	// Nothing left under watch.
	assert.Equal(t, 0, eng.GetStatus().ActiveConditions)

	status := orderQueue.GetQueueStatus()
	assert.Equal(t, int64(2), status.TotalEnqueued)
	assert.Equal(t, int64(2), status.TotalCompleted)
}

func TestFillLifecycleAfterTrigger(t *testing.T) {
	manager := lifecycle.NewManager()

	order, err := core.NewStopLossOrder("sl1", "BTC-USDT",
		fpdecimal.FromInt(10), fpdecimal.FromInt(95))
	require.NoError(t, err)
	require.NoError(t, manager.CreateOrder(order))
	require.NoError(t, manager.TriggerOrder("sl1", "price_monitor"))

	// Two partial fills complete the order.
	require.NoError(t, manager.UpdateFillDetails("sl1",
		fpdecimal.FromInt(6), fpdecimal.FromInt(94), fpdecimal.Zero))
	state := manager.GetOrderState("sl1")
	require.NotNil(t, state)
	assert.Equal(t, core.StatusPartiallyFilled, state.CurrentStatus)

	require.NoError(t, manager.UpdateFillDetails("sl1",
		fpdecimal.FromInt(4), fpdecimal.FromInt(93), fpdecimal.Zero))
	state = manager.GetOrderState("sl1")
	require.NotNil(t, state)
	assert.Equal(t, core.StatusFilled, state.CurrentStatus)
	assert.True(t, state.IsTerminal)
	assert.True(t, state.RemainingQuantity.Equal(fpdecimal.Zero))
}

func redisTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: testutil.RedisAddr()})
	require.NoError(t, client.FlushDB(context.Background()).Err())
	return client
}

func TestEngineRestoresPendingOrdersFromRedis(t *testing.T) {
	testutil.SkipIfRedisUnavailable(t, testutil.RedisAddr())
	ctx := context.Background()

	client := redisTestClient(t)
	store := redis.NewRedisStore(client, "test:integration", zap.NewNop())

	order, err := core.NewStopLossOrder("sl1", "BTC-USDT",
		fpdecimal.FromInt(1), fpdecimal.FromInt(95))
	require.NoError(t, err)
	require.NoError(t, store.StoreOrder(ctx, order))

	sink := &engine.MockExecutionSink{}
	eng := engine.NewEngine(converter.NewConverter(), store, nil, sink, time.Second)
	require.NoError(t, eng.Start(ctx))
	defer eng.Stop(ctx)

	// The pending stop-loss survives the restart and still fires.
	eng.CheckTriggerConditions(ctx, "BTC-USDT", fpdecimal.FromInt(94))
	require.Len(t, sink.Executed(), 1)

	stored, err := store.GetOrder(ctx, "sl1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, core.StatusTriggered, stored.Status)
}
