// Package redis provides a Redis-backed implementation of the order
// store, for deployments where pending orders must survive a restart.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erain9/papertrade/pkg/core"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

var defaultOptions = &RedisOptions{
	Addr:     "localhost:6379",
	Password: "",
	DB:       0,
}

// SetDefaultRedisOptions sets the default options for Redis connections
func SetDefaultRedisOptions(options *RedisOptions) {
	defaultOptions = options
}

// GetRedisClient creates a new Redis client using the default options
func GetRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     defaultOptions.Addr,
		Password: defaultOptions.Password,
		DB:       defaultOptions.DB,
	})
}

// RedisStore implements core.OrderStore with Redis storage. Orders are
// stored as JSON values under <prefix>:order:<id>, with the id set kept
// in <prefix>:ids for enumeration.
type RedisStore struct {
	client *redis.Client
	prefix string
	idsKey string
	logger *zap.Logger
}

// NewRedisStore creates a new instance of RedisStore
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		idsKey: fmt.Sprintf("%s:ids", prefix),
		logger: logger,
	}
}

func (s *RedisStore) orderKey(orderID string) string {
	return fmt.Sprintf("%s:order:%s", s.prefix, orderID)
}

// StoreOrder persists a new order in Redis
func (s *RedisStore) StoreOrder(ctx context.Context, order *core.Order) error {
	if order == nil || order.ID == "" {
		return core.ErrMissingOrderID
	}

	key := s.orderKey(order.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return core.ErrOrderExists
	}

	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, s.idsKey, order.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	s.logger.Debug("stored order",
		zap.String("orderID", order.ID),
		zap.String("symbol", order.Symbol))
	return nil
}

// GetOrder retrieves an order from Redis by its ID. Absent orders
// return nil without error.
func (s *RedisStore) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	data, err := s.client.Get(ctx, s.orderKey(orderID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		s.logger.Error("failed to get order",
			zap.String("orderID", orderID),
			zap.Error(err))
		return nil, err
	}

	var order core.Order
	if err := json.Unmarshal(data, &order); err != nil {
		s.logger.Error("failed to unmarshal order",
			zap.String("orderID", orderID),
			zap.Error(err))
		return nil, err
	}
	return &order, nil
}

// LoadOrders returns all stored orders matching the predicate
func (s *RedisStore) LoadOrders(ctx context.Context, match func(*core.Order) bool) ([]*core.Order, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey).Result()
	if err != nil {
		return nil, err
	}

	orders := make([]*core.Order, 0, len(ids))
	for _, id := range ids {
		order, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if order == nil {
			// id set out of sync with order keys, repair on read
			s.client.SRem(ctx, s.idsKey, id)
			continue
		}
		if match == nil || match(order) {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

// UpdateOrderStatus rewrites the stored order with the new status and
// timestamps
func (s *RedisStore) UpdateOrderStatus(ctx context.Context, orderID string, status core.Status, triggeredAt, filledAt *time.Time) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return core.ErrNonexistentOrder
	}

	order.Status = status
	if triggeredAt != nil {
		order.TriggeredAt = triggeredAt
	}
	if filledAt != nil {
		order.FilledAt = filledAt
	}

	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.orderKey(orderID), data, 0).Err(); err != nil {
		return err
	}

	s.logger.Debug("updated order status",
		zap.String("orderID", orderID),
		zap.String("status", string(status)))
	return nil
}

// DeleteOrder removes an order from Redis. Deleting an absent order is
// a no-op.
func (s *RedisStore) DeleteOrder(ctx context.Context, orderID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.orderKey(orderID))
	pipe.SRem(ctx, s.idsKey, orderID)
	_, err := pipe.Exec(ctx)
	return err
}

var _ core.OrderStore = (*RedisStore)(nil)
