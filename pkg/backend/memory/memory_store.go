// Package memory provides an in-memory OrderStore implementation
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erain9/papertrade/pkg/core"
)

// MemoryStore implements core.OrderStore with in-process maps
type MemoryStore struct {
	sync.RWMutex
	orders map[string]*core.Order
}

// NewMemoryStore creates a new empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*core.Order),
	}
}

// StoreOrder persists a new order
func (s *MemoryStore) StoreOrder(_ context.Context, order *core.Order) error {
	if order.ID == "" {
		return core.ErrMissingOrderID
	}

	s.Lock()
	defer s.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return core.ErrOrderExists
	}

	s.orders[order.ID] = order.Clone()
	return nil
}

// GetOrder returns a copy of the order with the given id, or nil
func (s *MemoryStore) GetOrder(_ context.Context, orderID string) (*core.Order, error) {
	s.RLock()
	defer s.RUnlock()

	order, exists := s.orders[orderID]
	if !exists {
		return nil, nil
	}
	return order.Clone(), nil
}

// LoadOrders returns copies of all orders matching the predicate, in
// creation order
func (s *MemoryStore) LoadOrders(_ context.Context, match func(*core.Order) bool) ([]*core.Order, error) {
	s.RLock()
	defer s.RUnlock()

	matched := make([]*core.Order, 0)
	for _, order := range s.orders {
		if match(order) {
			matched = append(matched, order.Clone())
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

// UpdateOrderStatus updates status and trigger/fill timestamps of the
// order with the given id
func (s *MemoryStore) UpdateOrderStatus(_ context.Context, orderID string, status core.Status, triggeredAt, filledAt *time.Time) error {
	s.Lock()
	defer s.Unlock()

	order, exists := s.orders[orderID]
	if !exists {
		return core.ErrNonexistentOrder
	}

	order.Status = status
	if triggeredAt != nil {
		t := *triggeredAt
		order.TriggeredAt = &t
	}
	if filledAt != nil {
		t := *filledAt
		order.FilledAt = &t
	}
	return nil
}

// DeleteOrder removes the order with the given id; removing an unknown
// id is a no-op
func (s *MemoryStore) DeleteOrder(_ context.Context, orderID string) error {
	s.Lock()
	defer s.Unlock()

	delete(s.orders, orderID)
	return nil
}

var _ core.OrderStore = (*MemoryStore)(nil)
