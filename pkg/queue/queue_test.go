package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/papertrade/pkg/core"
)

func newTestOrder(t *testing.T, id string) *core.Order {
	t.Helper()
	order, err := core.NewMarketOrder(id, "BTC-USDT", core.TypeBuy, fpdecimal.FromInt(1))
	require.NoError(t, err)
	return order
}

func newTestQueue(cfg Config) *OrderQueue {
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 5 * time.Millisecond
	}
	return NewOrderQueue(cfg)
}

func TestHeapPriorityOrdering(t *testing.T) {
	base := time.Now()
	var h orderHeap
	for i, p := range []Priority{PriorityLow, PriorityUrgent, PriorityNormal, PriorityHigh} {
		heap.Push(&h, &QueuedOrder{
			QueueID:  fmt.Sprintf("q%d", i),
			Priority: p,
			QueuedAt: base,
			seq:      uint64(i),
		})
	}

	var got []Priority
	for h.Len() > 0 {
		got = append(got, heap.Pop(&h).(*QueuedOrder).Priority)
	}
	assert.Equal(t, []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}, got)
}

func TestHeapFIFOWithinPriority(t *testing.T) {
	base := time.Now()
	var h orderHeap
	for i := 0; i < 5; i++ {
		heap.Push(&h, &QueuedOrder{
			QueueID:  fmt.Sprintf("q%d", i),
			Priority: PriorityNormal,
			QueuedAt: base.Add(time.Duration(i) * time.Millisecond),
			seq:      uint64(i),
		})
	}

	for i := 0; i < 5; i++ {
		entry := heap.Pop(&h).(*QueuedOrder)
		assert.Equal(t, fmt.Sprintf("q%d", i), entry.QueueID)
	}
}

func TestEnqueueRequiresRunningQueue(t *testing.T) {
	q := newTestQueue(Config{Workers: 1})
	_, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal)
	require.Error(t, err)
}

func TestEnqueueRejectsMissingID(t *testing.T) {
	q := newTestQueue(Config{Workers: 1})
	q.Start()
	defer q.Stop(context.Background(), false)

	_, err := q.EnqueueOrder(context.Background(), nil, PriorityNormal)
	assert.ErrorIs(t, err, core.ErrMissingOrderID)
}

func TestProcessorReceivesOrder(t *testing.T) {
	q := newTestQueue(Config{Workers: 2})
	var mu sync.Mutex
	seen := make(map[string]int)
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, order *core.Order) (interface{}, error) {
		mu.Lock()
		seen[order.ID]++
		mu.Unlock()
		return "done", nil
	})
	q.Start()

	id, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal)
	require.NoError(t, err)
	require.True(t, len(id) > 0)
	assert.Equal(t, fmt.Sprintf("queue_%s_%d", "ord1", 1), id)

	require.NoError(t, q.Stop(context.Background(), true))

	entry := q.GetQueuedOrder(id)
	require.NotNil(t, entry)
	assert.Equal(t, QueuedStatusCompleted, entry.Status)
	assert.Equal(t, "done", entry.Result)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, 1, seen["ord1"])
}

func TestFailingProcessorExhaustsAttempts(t *testing.T) {
	q := newTestQueue(Config{Workers: 1, MaxAttempts: 3})
	var attempts int32
	var mu sync.Mutex
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("downstream unavailable")
	})
	q.Start()

	id, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityHigh)
	require.NoError(t, err)

	require.NoError(t, q.Stop(context.Background(), true))

	mu.Lock()
	got := attempts
	mu.Unlock()
	assert.Equal(t, int32(3), got)

	entry := q.GetQueuedOrder(id)
	require.NotNil(t, entry)
	assert.Equal(t, QueuedStatusFailed, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
	assert.Error(t, entry.Err)

	status := q.GetQueueStatus()
	assert.Equal(t, int64(1), status.TotalFailed)
	assert.Equal(t, int64(2), status.TotalRetried)
	assert.Equal(t, int64(0), status.TotalCompleted)
}

func TestMissingProcessorCountsAsFailedAttempt(t *testing.T) {
	q := newTestQueue(Config{Workers: 1, MaxAttempts: 2})
	q.Start()

	id, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.Stop(context.Background(), true))

	entry := q.GetQueuedOrder(id)
	require.NotNil(t, entry)
	assert.Equal(t, QueuedStatusFailed, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
}

func TestPerEntryMaxAttemptsOverride(t *testing.T) {
	q := newTestQueue(Config{Workers: 1, MaxAttempts: 3})
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		return nil, errors.New("boom")
	})
	q.Start()

	id, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal, WithMaxAttempts(1))
	require.NoError(t, err)

	require.NoError(t, q.Stop(context.Background(), true))

	entry := q.GetQueuedOrder(id)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, QueuedStatusFailed, entry.Status)
}

func TestCompletionCallbacks(t *testing.T) {
	q := newTestQueue(Config{Workers: 1})
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		return 42, nil
	})

	var mu sync.Mutex
	var queueLevel, perEntry []string
	q.RegisterCompletionCallback(func(entry *QueuedOrder, result interface{}, err error) {
		mu.Lock()
		queueLevel = append(queueLevel, entry.QueueID)
		mu.Unlock()
		assert.Equal(t, 42, result)
		assert.NoError(t, err)
	})
	q.Start()

	id, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal,
		WithCallback(func(entry *QueuedOrder, _ interface{}, _ error) {
			mu.Lock()
			perEntry = append(perEntry, entry.QueueID)
			mu.Unlock()
		}))
	require.NoError(t, err)

	require.NoError(t, q.Stop(context.Background(), true))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{id}, queueLevel)
	assert.Equal(t, []string{id}, perEntry)
}

func TestCallbackPanicDoesNotKillWorker(t *testing.T) {
	q := newTestQueue(Config{Workers: 1})
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		return nil, nil
	})
	q.RegisterCompletionCallback(func(_ *QueuedOrder, _ interface{}, _ error) {
		panic("callback bug")
	})
	q.Start()

	id1, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal)
	require.NoError(t, err)
	id2, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord2"), PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.Stop(context.Background(), true))

	assert.Equal(t, QueuedStatusCompleted, q.GetQueuedOrder(id1).Status)
	assert.Equal(t, QueuedStatusCompleted, q.GetQueuedOrder(id2).Status)
}

func TestCancelQueuedOrder(t *testing.T) {
	// No workers pick anything up before we cancel: start with zero
	// registered processors and a held entry by not starting yet.
	q := newTestQueue(Config{Workers: 1})
	q.Start()
	defer q.Stop(context.Background(), false)

	// Plug the single worker with a slow entry so the second stays queued.
	block := make(chan struct{})
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		<-block
		return nil, nil
	})

	_, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "slow"), PriorityUrgent)
	require.NoError(t, err)
	id, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord2"), PriorityLow)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return q.GetQueueStatus().Processing == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, q.CancelOrder(id))
	assert.False(t, q.CancelOrder(id), "already cancelled")
	assert.False(t, q.CancelOrder("queue_unknown_9"))

	entry := q.GetQueuedOrder(id)
	require.NotNil(t, entry)
	assert.Equal(t, QueuedStatusCancelled, entry.Status)
	assert.Equal(t, int64(1), q.GetQueueStatus().TotalCancelled)

	close(block)
}

func TestGetQueuedOrderReturnsSnapshot(t *testing.T) {
	q := newTestQueue(Config{Workers: 1})
	q.Start()
	defer q.Stop(context.Background(), false)

	block := make(chan struct{})
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		<-block
		return "done", nil
	})

	id, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return q.GetQueueStatus().Processing == 1
	}, time.Second, 5*time.Millisecond)

	inFlight := q.GetQueuedOrder(id)
	require.NotNil(t, inFlight)
	assert.Equal(t, QueuedStatusProcessing, inFlight.Status)
	assert.Equal(t, 1, inFlight.Attempts)

	close(block)
	require.Eventually(t, func() bool {
		entry := q.GetQueuedOrder(id)
		return entry != nil && entry.Status == QueuedStatusCompleted
	}, time.Second, 5*time.Millisecond)

	// The earlier snapshot is detached from the live entry.
	assert.Equal(t, QueuedStatusProcessing, inFlight.Status)
	assert.Nil(t, inFlight.Result)

	done := q.GetQueuedOrder(id)
	require.NotNil(t, done)
	assert.Equal(t, "done", done.Result)
}

func TestForceProcessOrder(t *testing.T) {
	q := newTestQueue(Config{Workers: 1})
	q.Start()
	defer q.Stop(context.Background(), false)

	block := make(chan struct{})
	var mu sync.Mutex
	var processed []string
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, order *core.Order) (interface{}, error) {
		if order.ID == "slow" {
			<-block
		}
		mu.Lock()
		processed = append(processed, order.ID)
		mu.Unlock()
		return nil, nil
	})

	_, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "slow"), PriorityUrgent)
	require.NoError(t, err)
	id, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord2"), PriorityLow)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return q.GetQueueStatus().Processing == 1
	}, time.Second, 5*time.Millisecond)

	// Processes on this goroutine even though the only worker is busy.
	assert.True(t, q.ForceProcessOrder(context.Background(), id))
	assert.False(t, q.ForceProcessOrder(context.Background(), id))

	mu.Lock()
	assert.Equal(t, []string{"ord2"}, processed)
	mu.Unlock()
	assert.Equal(t, QueuedStatusCompleted, q.GetQueuedOrder(id).Status)

	close(block)
}

func TestEnqueueBatch(t *testing.T) {
	q := newTestQueue(Config{Workers: 2})
	var mu sync.Mutex
	count := 0
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		mu.Lock()
		count++
		mu.Unlock()
		return nil, nil
	})
	q.Start()

	orders := []*core.Order{
		newTestOrder(t, "ord1"),
		newTestOrder(t, "ord2"),
		newTestOrder(t, "ord3"),
	}
	ids, err := q.EnqueueBatch(context.Background(), orders, PriorityNormal)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	require.NoError(t, q.Stop(context.Background(), true))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count)
	assert.Equal(t, int64(3), q.GetQueueStatus().TotalCompleted)
}

func TestSymbolBatchingFlushesOnSize(t *testing.T) {
	q := newTestQueue(Config{
		Workers: 1,
		Batching: BatchConfig{
			Enabled:       true,
			MaxBatchSize:  2,
			FlushInterval: time.Hour, // size threshold only
		},
	})
	var mu sync.Mutex
	count := 0
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		mu.Lock()
		count++
		mu.Unlock()
		return nil, nil
	})
	q.Start()
	defer q.Stop(context.Background(), false)

	_, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal)
	require.NoError(t, err)

	// One buffered entry: below the size threshold, nothing dispatches.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, count)
	mu.Unlock()

	_, err = q.EnqueueOrder(context.Background(), newTestOrder(t, "ord2"), PriorityNormal)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSymbolBatchingFlushesOnInterval(t *testing.T) {
	q := newTestQueue(Config{
		Workers: 1,
		Batching: BatchConfig{
			Enabled:       true,
			MaxBatchSize:  100,
			FlushInterval: 10 * time.Millisecond,
		},
	})
	done := make(chan struct{})
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		close(done)
		return nil, nil
	})
	q.Start()
	defer q.Stop(context.Background(), false)

	_, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("buffered order never dispatched")
	}
}

func TestQueueStatusAndResetMetrics(t *testing.T) {
	q := newTestQueue(Config{Workers: 1})
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		return nil, nil
	})
	q.Start()

	for i := 0; i < 4; i++ {
		_, err := q.EnqueueOrder(context.Background(), newTestOrder(t, fmt.Sprintf("ord%d", i)), PriorityNormal)
		require.NoError(t, err)
	}
	require.NoError(t, q.Stop(context.Background(), true))

	status := q.GetQueueStatus()
	assert.Equal(t, int64(4), status.TotalEnqueued)
	assert.Equal(t, int64(4), status.TotalCompleted)
	assert.Equal(t, 0, status.Depth)
	assert.Equal(t, 0, status.Processing)
	assert.GreaterOrEqual(t, status.AvgWaitMs, 0.0)
	assert.GreaterOrEqual(t, status.AvgProcessingMs, 0.0)

	q.ResetMetrics()
	status = q.GetQueueStatus()
	assert.Equal(t, int64(0), status.TotalEnqueued)
	assert.Equal(t, int64(0), status.TotalCompleted)
	assert.Equal(t, 0.0, status.AvgProcessingMs)
}

func TestStopDrainWaitsForRetries(t *testing.T) {
	q := newTestQueue(Config{Workers: 1, MaxAttempts: 3, RetryBaseDelay: 5 * time.Millisecond})
	var mu sync.Mutex
	attempts := 0
	q.RegisterProcessor(core.TypeBuy, func(_ context.Context, _ *core.Order) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})
	q.Start()

	id, err := q.EnqueueOrder(context.Background(), newTestOrder(t, "ord1"), PriorityNormal)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx, true))

	entry := q.GetQueuedOrder(id)
	require.NotNil(t, entry)
	assert.Equal(t, QueuedStatusCompleted, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
}

func TestStopIsIdempotent(t *testing.T) {
	q := newTestQueue(Config{Workers: 1})
	q.Start()
	require.NoError(t, q.Stop(context.Background(), false))
	require.NoError(t, q.Stop(context.Background(), false))
}
