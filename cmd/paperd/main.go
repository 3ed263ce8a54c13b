package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/erain9/papertrade/config"
	"github.com/erain9/papertrade/pkg/audit"
	"github.com/erain9/papertrade/pkg/backend/memory"
	"github.com/erain9/papertrade/pkg/backend/redis"
	"github.com/erain9/papertrade/pkg/converter"
	"github.com/erain9/papertrade/pkg/core"
	"github.com/erain9/papertrade/pkg/engine"
	"github.com/erain9/papertrade/pkg/lifecycle"
	"github.com/erain9/papertrade/pkg/logging"
	"github.com/erain9/papertrade/pkg/messaging"
	"github.com/erain9/papertrade/pkg/messaging/kafka"
	"github.com/erain9/papertrade/pkg/queue"
	"github.com/erain9/papertrade/pkg/quotes"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup logging
	logging.Setup(logging.Config{
		Level:  cfg.Service.LogLevel,
		Format: cfg.Service.LogFormat,
	})
	logger := logging.Component("paperd")

	// Order storage: Redis when configured, in-memory otherwise
	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize order store")
	}

	// Lifecycle tracking with Kafka audit trail
	manager := lifecycle.NewManager()
	if publisher, err := audit.NewPublisher([]string{cfg.Kafka.BrokerAddr}, cfg.Kafka.AuditTopic); err != nil {
		logger.Warn().Err(err).Msg("Audit publisher unavailable, continuing without audit trail")
	} else {
		publisher.Attach(manager)
		defer publisher.Close()
	}

	// Execution reports go out through Kafka
	sender, err := kafka.NewKafkaReportSender(cfg.Kafka.BrokerAddr, cfg.Kafka.ExecutionTopic)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create execution report sender")
	}
	defer sender.Close()

	// Order dispatch queue
	orderQueue := queue.NewOrderQueue(queue.Config{
		Workers:        cfg.Queue.Workers,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay(),
		RetryMaxDelay:  cfg.RetryMaxDelay(),
		Batching: queue.BatchConfig{
			Enabled:       cfg.Queue.BatchingEnabled,
			MaxBatchSize:  cfg.Queue.MaxBatchSize,
			FlushInterval: cfg.BatchFlushInterval(),
		},
	})
	sink := messaging.NewReportingSink(sender)
	processor := func(ctx context.Context, order *core.Order) (interface{}, error) {
		return nil, sink.ExecuteOrder(ctx, order)
	}
	orderQueue.RegisterProcessor(core.TypeBuy, processor)
	orderQueue.RegisterProcessor(core.TypeSell, processor)
	orderQueue.Start()

	// Market data source
	quoteCfg, err := quotes.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load quote source configuration")
	}
	quoteSource, err := quotes.NewHTTPQuoteSource(quoteCfg, newSlogLogger())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create quote source")
	}
	defer quoteSource.Close()

	// Execution engine: triggered orders are queued for dispatch and
	// marked in the lifecycle manager
	eng := engine.NewEngine(converter.NewConverter(), store, quoteSource,
		&queueingSink{queue: orderQueue, manager: manager}, cfg.MonitorInterval())
	if err := eng.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start execution engine")
	}

	// Fill reports come back through Kafka
	fillCtx, cancelFills := context.WithCancel(context.Background())
	fillConsumer := kafka.NewFillConsumer([]string{cfg.Kafka.BrokerAddr}, cfg.Kafka.FillTopic, cfg.Kafka.FillGroupID)
	go func() {
		if err := fillConsumer.Run(fillCtx, kafka.ApplyFills(manager)); err != nil {
			logger.Error().Err(err).Msg("Fill consumer stopped")
		}
	}()

	// Periodic cleanup of completed order state
	cleanupDone := make(chan struct{})
	go runCleanup(manager, time.Duration(cfg.Queue.CleanupOlderThanH)*time.Hour, cleanupDone, logger)

	logger.Info().
		Strs("symbols", cfg.Engine.Symbols).
		Dur("monitor_interval", cfg.MonitorInterval()).
		Int("queue_workers", cfg.Queue.Workers).
		Msg("paperd started")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Graceful shutdown: stop monitoring, drain the queue, stop fills
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Engine shutdown error")
	}
	if err := orderQueue.Stop(shutdownCtx, true); err != nil {
		logger.Error().Err(err).Msg("Queue shutdown error")
	}
	cancelFills()
	if err := fillConsumer.Close(); err != nil {
		logger.Error().Err(err).Msg("Fill consumer close error")
	}
	close(cleanupDone)

	logger.Info().Msg("Shutdown complete")
}

// queueingSink hands triggered orders to the dispatch queue and
// records the trigger in the lifecycle manager.
type queueingSink struct {
	queue   *queue.OrderQueue
	manager *lifecycle.Manager
}

func (s *queueingSink) ExecuteOrder(ctx context.Context, order *core.Order) error {
	if state := s.manager.GetOrderState(order.ID); state == nil {
		// Converted orders carry a fresh id; track them from here on.
		if err := s.manager.CreateOrder(order); err != nil {
			return err
		}
	}
	_, err := s.queue.EnqueueOrder(ctx, order, queue.PriorityHigh)
	return err
}

func newSlogLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func buildStore(cfg *config.Config, logger zerolog.Logger) (core.OrderStore, error) {
	if !cfg.Redis.Enabled {
		logger.Info().Msg("Using in-memory order store")
		return memory.NewMemoryStore(), nil
	}

	redis.SetDefaultRedisOptions(&redis.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	zapLogger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis order store")
	return redis.NewRedisStore(redis.GetRedisClient(), "papertrade", zapLogger), nil
}

func runCleanup(manager *lifecycle.Manager, olderThan time.Duration, done <-chan struct{}, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if removed := manager.CleanupCompletedOrders(olderThan); removed > 0 {
				logger.Info().Int("removed", removed).Msg("Cleaned up completed orders")
			}
		}
	}
}
