package core

import (
	"context"
	"time"
)

// OrderStore defines the interface for order persistence backends
type OrderStore interface {
	// StoreOrder persists a new order
	StoreOrder(ctx context.Context, order *Order) error

	// GetOrder returns the order with the given id, or nil if absent
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// LoadOrders returns all orders matching the predicate
	LoadOrders(ctx context.Context, match func(*Order) bool) ([]*Order, error)

	// UpdateOrderStatus transactionally updates status and the trigger/fill
	// timestamps of the order with the given id
	UpdateOrderStatus(ctx context.Context, orderID string, status Status, triggeredAt, filledAt *time.Time) error

	// DeleteOrder removes the order with the given id
	DeleteOrder(ctx context.Context, orderID string) error
}

// PendingConditional matches conditional orders still awaiting their
// trigger; the execution engine loads these on start
func PendingConditional(o *Order) bool {
	return o.OrderType.IsConditional() && o.Status == StatusPending
}
