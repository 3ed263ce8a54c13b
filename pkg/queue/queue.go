// Package queue provides a priority-based dispatch queue for order
// processing. Orders are enqueued with a priority, picked up by a pool
// of workers, routed to a processor registered for their order type,
// and retried with exponential backoff on failure.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/erain9/papertrade/pkg/core"
	"github.com/erain9/papertrade/pkg/logging"
	"github.com/erain9/papertrade/pkg/otel"
)

// Priority orders dispatch. Lower values are picked first.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "URGENT"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// QueuedStatus tracks an entry through the queue, independent of the
// order's own lifecycle status.
type QueuedStatus string

const (
	QueuedStatusQueued     QueuedStatus = "QUEUED"
	QueuedStatusProcessing QueuedStatus = "PROCESSING"
	QueuedStatusRetrying   QueuedStatus = "RETRYING"
	QueuedStatusCompleted  QueuedStatus = "COMPLETED"
	QueuedStatusFailed     QueuedStatus = "FAILED"
	QueuedStatusCancelled  QueuedStatus = "CANCELLED"
)

// ProcessorFunc handles one order and returns an opaque result.
type ProcessorFunc func(ctx context.Context, order *core.Order) (interface{}, error)

// CompletionCallback is invoked after an entry reaches COMPLETED or
// FAILED. err is nil on success.
type CompletionCallback func(entry *QueuedOrder, result interface{}, err error)

// QueuedOrder is one entry in the queue.
type QueuedOrder struct {
	QueueID     string
	Order       *core.Order
	Priority    Priority
	Status      QueuedStatus
	QueuedAt    time.Time
	Attempts    int
	MaxAttempts int
	Metadata    map[string]string
	Callback    CompletionCallback
	Result      interface{}
	Err         error

	seq     uint64
	retries *backoff.ExponentialBackOff
	started time.Time
	index   int
}

// orderHeap is a min-heap keyed on (priority, queued_at, seq) so that
// equal-priority entries dispatch in FIFO order.
type orderHeap []*QueuedOrder

func (h orderHeap) Len() int { return len(h) }

func (h orderHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if !h[i].QueuedAt.Equal(h[j].QueuedAt) {
		return h[i].QueuedAt.Before(h[j].QueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h orderHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *orderHeap) Push(x interface{}) {
	entry := x.(*QueuedOrder)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *orderHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// Config controls worker count, retry policy and optional batching.
type Config struct {
	Workers        int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Batching       BatchConfig
}

// BatchConfig enables per-symbol accumulation of enqueued orders.
// Buffered orders are pushed to the heap together when a symbol's
// buffer reaches MaxBatchSize or FlushInterval elapses. Dispatch stays
// per-order either way.
type BatchConfig struct {
	Enabled       bool
	MaxBatchSize  int
	FlushInterval time.Duration
}

const (
	DefaultWorkers        = 4
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 100 * time.Millisecond
	DefaultRetryMaxDelay  = 5 * time.Second
)

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.Batching.Enabled {
		if c.Batching.MaxBatchSize <= 0 {
			c.Batching.MaxBatchSize = 10
		}
		if c.Batching.FlushInterval <= 0 {
			c.Batching.FlushInterval = 50 * time.Millisecond
		}
	}
}

// Status is a point-in-time snapshot returned by GetQueueStatus.
type Status struct {
	Running          bool
	Workers          int
	Depth            int
	Processing       int
	TotalEnqueued    int64
	TotalCompleted   int64
	TotalFailed      int64
	TotalRetried     int64
	TotalCancelled   int64
	ThroughputPerSec float64
	AvgProcessingMs  float64
	AvgWaitMs        float64
}

// OrderQueue dispatches orders to registered processors with a fixed
// worker pool. Safe for concurrent use.
type OrderQueue struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	heap       orderHeap
	pending    map[string][]*QueuedOrder // symbol -> buffered entries, batching only
	processing map[string]*QueuedOrder
	completed  map[string]*QueuedOrder
	processors map[core.OrderType]ProcessorFunc
	callbacks  []CompletionCallback
	seq        uint64
	running    bool
	draining   bool

	totalEnqueued  int64
	totalCompleted int64
	totalFailed    int64
	totalRetried   int64
	totalCancelled int64
	metricsSince   time.Time
	processingHist *hdrhistogram.Histogram
	waitHist       *hdrhistogram.Histogram

	wake    chan struct{}
	stopCh  chan struct{}
	flushCh chan struct{}
	wg      sync.WaitGroup
}

// NewOrderQueue builds a queue. Start must be called before orders
// are accepted.
func NewOrderQueue(cfg Config) *OrderQueue {
	cfg.applyDefaults()
	return &OrderQueue{
		cfg:    cfg,
		logger: logging.Component("order_queue"),
		// microsecond resolution, values up to one minute
		processingHist: hdrhistogram.New(1, 60_000_000, 3),
		waitHist:       hdrhistogram.New(1, 60_000_000, 3),
		pending:        make(map[string][]*QueuedOrder),
		processing:     make(map[string]*QueuedOrder),
		completed:      make(map[string]*QueuedOrder),
		processors:     make(map[core.OrderType]ProcessorFunc),
		metricsSince:   time.Now(),
	}
}

// RegisterProcessor routes orders of the given type to fn. Registering
// the same type twice replaces the earlier processor.
func (q *OrderQueue) RegisterProcessor(orderType core.OrderType, fn ProcessorFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.processors[orderType]; ok {
		q.logger.Warn().Str("order_type", string(orderType)).Msg("replacing registered processor")
	}
	q.processors[orderType] = fn
}

// RegisterCompletionCallback adds a callback fired for every entry
// that completes or permanently fails.
func (q *OrderQueue) RegisterCompletionCallback(cb CompletionCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callbacks = append(q.callbacks, cb)
}

// Start launches the worker pool. Calling Start on a running queue is
// a no-op.
func (q *OrderQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.draining = false
	q.stopCh = make(chan struct{})
	q.wake = make(chan struct{}, 1)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	if q.cfg.Batching.Enabled {
		q.flushCh = make(chan struct{}, 1)
		q.wg.Add(1)
		go q.flushLoop()
	}
	q.logger.Info().
		Int("workers", q.cfg.Workers).
		Bool("batching", q.cfg.Batching.Enabled).
		Msg("order queue started")
}

// Stop shuts the pool down. With drain set, Stop first refuses new
// orders and waits until the queue is empty and no worker is busy,
// bounded by ctx.
func (q *OrderQueue) Stop(ctx context.Context, drain bool) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	if drain {
		q.draining = true
		q.mu.Unlock()
		if err := q.awaitEmpty(ctx); err != nil {
			q.logger.Warn().Err(err).Msg("drain interrupted")
		}
		q.mu.Lock()
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info().Msg("order queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *OrderQueue) awaitEmpty(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		q.flushAllLocked()
		queued := len(q.heap)
		empty := queued == 0 && len(q.processing) == 0
		q.mu.Unlock()
		if empty {
			return nil
		}
		if queued > 0 {
			q.signalWake()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EnqueueOrder queues an order at the given priority and returns the
// queue entry id.
func (q *OrderQueue) EnqueueOrder(ctx context.Context, order *core.Order, priority Priority, opts ...EnqueueOption) (string, error) {
	if order == nil || order.ID == "" {
		return "", core.ErrMissingOrderID
	}
	q.mu.Lock()
	if !q.running || q.draining {
		q.mu.Unlock()
		return "", fmt.Errorf("enqueue %s: queue not accepting orders", order.ID)
	}
	q.seq++
	entry := &QueuedOrder{
		QueueID:     fmt.Sprintf("queue_%s_%d", order.ID, q.seq),
		Order:       order,
		Priority:    priority,
		Status:      QueuedStatusQueued,
		QueuedAt:    time.Now(),
		MaxAttempts: q.cfg.MaxAttempts,
		seq:         q.seq,
		retries:     q.newBackoff(),
	}
	for _, opt := range opts {
		opt(entry)
	}
	q.totalEnqueued++
	if q.cfg.Batching.Enabled {
		q.bufferLocked(entry)
	} else {
		heap.Push(&q.heap, entry)
	}
	q.mu.Unlock()

	otel.GetOrderMetrics().RecordEnqueued(ctx, string(order.OrderType), priority.String())
	q.logger.Debug().
		Str("queue_id", entry.QueueID).
		Str("order_id", order.ID).
		Str("priority", priority.String()).
		Msg("order enqueued")
	q.signalWake()
	return entry.QueueID, nil
}

// EnqueueBatch queues a slice of orders at one priority. It stops at
// the first failure and returns the ids accepted so far.
func (q *OrderQueue) EnqueueBatch(ctx context.Context, orders []*core.Order, priority Priority) ([]string, error) {
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		id, err := q.EnqueueOrder(ctx, order, priority)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EnqueueOption customizes a queue entry at enqueue time.
type EnqueueOption func(*QueuedOrder)

// WithMaxAttempts overrides the configured attempt limit for one entry.
func WithMaxAttempts(n int) EnqueueOption {
	return func(e *QueuedOrder) {
		if n > 0 {
			e.MaxAttempts = n
		}
	}
}

// WithMetadata attaches caller metadata to the entry.
func WithMetadata(md map[string]string) EnqueueOption {
	return func(e *QueuedOrder) { e.Metadata = md }
}

// WithCallback sets a per-entry completion callback, fired in addition
// to queue-level ones.
func WithCallback(cb CompletionCallback) EnqueueOption {
	return func(e *QueuedOrder) { e.Callback = cb }
}

// CancelOrder removes a still-queued entry. It reports false when the
// entry is unknown or already being processed.
func (q *OrderQueue) CancelOrder(queueID string) bool {
	q.mu.Lock()
	entry := q.removeQueuedLocked(queueID)
	if entry == nil {
		q.mu.Unlock()
		return false
	}
	entry.Status = QueuedStatusCancelled
	q.completed[queueID] = entry
	q.totalCancelled++
	q.mu.Unlock()
	q.logger.Info().Str("queue_id", queueID).Msg("queued order cancelled")
	return true
}

// ForceProcessOrder pulls a still-queued entry past the queue and
// processes it on the calling goroutine. It reports false when the
// entry is unknown or already being processed.
func (q *OrderQueue) ForceProcessOrder(ctx context.Context, queueID string) bool {
	q.mu.Lock()
	entry := q.removeQueuedLocked(queueID)
	if entry == nil {
		q.mu.Unlock()
		return false
	}
	entry.Status = QueuedStatusProcessing
	q.processing[queueID] = entry
	q.mu.Unlock()
	q.logger.Info().Str("queue_id", queueID).Msg("processing queued order out of band")
	q.process(ctx, entry)
	return true
}

// GetQueuedOrder returns a snapshot of the entry for a queue id,
// searching queued, processing and finished entries. It returns nil
// when unknown. Workers keep mutating the live entry, so the snapshot
// reflects the moment of the call only.
func (q *OrderQueue) GetQueuedOrder(queueID string) *QueuedOrder {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := q.completed[queueID]
	if entry == nil {
		entry = q.processing[queueID]
	}
	if entry == nil {
		for _, e := range q.heap {
			if e.QueueID == queueID {
				entry = e
				break
			}
		}
	}
	if entry == nil {
		return nil
	}
	snapshot := *entry
	return &snapshot
}

// GetQueueStatus reports depth, totals and latency aggregates since
// the last ResetMetrics.
func (q *OrderQueue) GetQueueStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := len(q.heap)
	for _, buf := range q.pending {
		depth += len(buf)
	}
	elapsed := time.Since(q.metricsSince).Seconds()
	var throughput float64
	if elapsed > 0 {
		throughput = float64(q.totalCompleted) / elapsed
	}
	return Status{
		Running:          q.running,
		Workers:          q.cfg.Workers,
		Depth:            depth,
		Processing:       len(q.processing),
		TotalEnqueued:    q.totalEnqueued,
		TotalCompleted:   q.totalCompleted,
		TotalFailed:      q.totalFailed,
		TotalRetried:     q.totalRetried,
		TotalCancelled:   q.totalCancelled,
		ThroughputPerSec: throughput,
		AvgProcessingMs:  q.processingHist.Mean() / 1000,
		AvgWaitMs:        q.waitHist.Mean() / 1000,
	}
}

// ResetMetrics zeroes the counters and latency histograms. Queue
// contents are untouched.
func (q *OrderQueue) ResetMetrics() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.totalEnqueued = 0
	q.totalCompleted = 0
	q.totalFailed = 0
	q.totalRetried = 0
	q.totalCancelled = 0
	q.metricsSince = time.Now()
	q.processingHist.Reset()
	q.waitHist.Reset()
}

func (q *OrderQueue) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.RetryBaseDelay
	b.MaxInterval = q.cfg.RetryMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (q *OrderQueue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// removeQueuedLocked takes an entry out of the heap or a batching
// buffer. Caller holds q.mu.
func (q *OrderQueue) removeQueuedLocked(queueID string) *QueuedOrder {
	for i, entry := range q.heap {
		if entry.QueueID == queueID {
			heap.Remove(&q.heap, i)
			return entry
		}
	}
	for symbol, buf := range q.pending {
		for i, entry := range buf {
			if entry.QueueID == queueID {
				q.pending[symbol] = append(buf[:i], buf[i+1:]...)
				return entry
			}
		}
	}
	return nil
}

func (q *OrderQueue) bufferLocked(entry *QueuedOrder) {
	symbol := entry.Order.Symbol
	q.pending[symbol] = append(q.pending[symbol], entry)
	if len(q.pending[symbol]) >= q.cfg.Batching.MaxBatchSize {
		q.flushSymbolLocked(symbol)
	}
}

func (q *OrderQueue) flushSymbolLocked(symbol string) {
	buf := q.pending[symbol]
	if len(buf) == 0 {
		return
	}
	for _, entry := range buf {
		heap.Push(&q.heap, entry)
	}
	delete(q.pending, symbol)
	q.logger.Debug().Str("symbol", symbol).Int("count", len(buf)).Msg("flushed symbol batch")
}

func (q *OrderQueue) flushAllLocked() {
	for symbol := range q.pending {
		q.flushSymbolLocked(symbol)
	}
}

func (q *OrderQueue) flushLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.Batching.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			q.mu.Lock()
			q.flushAllLocked()
			q.mu.Unlock()
			q.signalWake()
			return
		case <-ticker.C:
			q.mu.Lock()
			q.flushAllLocked()
			q.mu.Unlock()
			q.signalWake()
		}
	}
}

func (q *OrderQueue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		entry := q.next()
		if entry == nil {
			select {
			case <-q.stopCh:
				return
			case <-q.wake:
				continue
			}
		}
		q.process(ctx, entry)
	}
}

func (q *OrderQueue) next() *QueuedOrder {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	entry := heap.Pop(&q.heap).(*QueuedOrder)
	entry.Status = QueuedStatusProcessing
	q.processing[entry.QueueID] = entry
	return entry
}

func (q *OrderQueue) process(ctx context.Context, entry *QueuedOrder) {
	q.mu.Lock()
	fn := q.processors[entry.Order.OrderType]
	entry.started = time.Now()
	entry.Attempts++
	q.mu.Unlock()

	q.recordWait(entry)

	var result interface{}
	var err error
	if fn == nil {
		err = fmt.Errorf("no processor registered for order type %s", entry.Order.OrderType)
	} else {
		result, err = fn(ctx, entry.Order)
	}
	q.recordProcessing(entry)

	if err == nil {
		q.finish(entry, result, nil)
		return
	}

	if entry.Attempts >= entry.MaxAttempts {
		q.logger.Error().Err(err).
			Str("queue_id", entry.QueueID).
			Str("order_id", entry.Order.ID).
			Int("attempts", entry.Attempts).
			Msg("order failed permanently")
		otel.GetOrderMetrics().RecordFailed(ctx, string(entry.Order.OrderType))
		q.finish(entry, nil, err)
		return
	}

	delay := entry.retries.NextBackOff()
	q.mu.Lock()
	entry.Status = QueuedStatusRetrying
	entry.Err = err
	q.totalRetried++
	q.mu.Unlock()
	q.logger.Warn().Err(err).
		Str("queue_id", entry.QueueID).
		Int("attempt", entry.Attempts).
		Dur("retry_in", delay).
		Msg("order processing failed, retrying")
	q.wg.Add(1)
	go q.requeueAfterDelay(entry, delay)
}

// requeueAfterDelay keeps the entry in the processing set while it
// waits so that drain accounts for it.
func (q *OrderQueue) requeueAfterDelay(entry *QueuedOrder, delay time.Duration) {
	defer q.wg.Done()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-q.stopCh:
		return
	case <-timer.C:
	}
	q.mu.Lock()
	delete(q.processing, entry.QueueID)
	entry.Status = QueuedStatusQueued
	heap.Push(&q.heap, entry)
	q.mu.Unlock()
	q.signalWake()
}

func (q *OrderQueue) finish(entry *QueuedOrder, result interface{}, err error) {
	q.mu.Lock()
	delete(q.processing, entry.QueueID)
	entry.Result = result
	entry.Err = err
	if err == nil {
		entry.Status = QueuedStatusCompleted
		q.totalCompleted++
	} else {
		entry.Status = QueuedStatusFailed
		q.totalFailed++
	}
	q.completed[entry.QueueID] = entry
	callbacks := make([]CompletionCallback, len(q.callbacks))
	copy(callbacks, q.callbacks)
	q.mu.Unlock()

	if entry.Callback != nil {
		callbacks = append(callbacks, entry.Callback)
	}
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Error().
						Interface("panic", r).
						Str("queue_id", entry.QueueID).
						Msg("completion callback panicked")
				}
			}()
			cb(entry, result, err)
		}()
	}
}

func (q *OrderQueue) recordWait(entry *QueuedOrder) {
	waited := entry.started.Sub(entry.QueuedAt).Microseconds()
	q.mu.Lock()
	if err := q.waitHist.RecordValue(waited); err != nil {
		q.logger.Debug().Err(err).Msg("wait histogram record failed")
	}
	q.mu.Unlock()
}

func (q *OrderQueue) recordProcessing(entry *QueuedOrder) {
	took := time.Since(entry.started).Microseconds()
	q.mu.Lock()
	if err := q.processingHist.RecordValue(took); err != nil {
		q.logger.Debug().Err(err).Msg("processing histogram record failed")
	}
	q.mu.Unlock()
}
