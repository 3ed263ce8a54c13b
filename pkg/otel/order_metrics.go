// Package otel exposes OpenTelemetry counters for the execution core.
// Counters report through the globally registered meter provider; the
// hosting service decides whether and where they are exported.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/erain9/papertrade"

var (
	// orderMetrics holds the singleton instance
	orderMetrics *OrderMetrics
	// meter is the global meter for order metrics
	meter = otel.GetMeterProvider().Meter(instrumentationName)
)

// OrderMetrics holds counters for order flow through the execution core
type OrderMetrics struct {
	ordersTriggeredTotal metric.Int64Counter
	ordersEnqueuedTotal  metric.Int64Counter
	ordersFailedTotal    metric.Int64Counter
}

// GetOrderMetrics returns the OrderMetrics singleton
func GetOrderMetrics() *OrderMetrics {
	if orderMetrics == nil {
		triggered, err := meter.Int64Counter(
			"papertrade.orders_triggered.total",
			metric.WithDescription("Total number of conditional orders triggered"),
			metric.WithUnit("{order}"),
		)
		if err != nil {
			return &OrderMetrics{}
		}

		enqueued, err := meter.Int64Counter(
			"papertrade.orders_enqueued.total",
			metric.WithDescription("Total number of orders enqueued for dispatch"),
			metric.WithUnit("{order}"),
		)
		if err != nil {
			return &OrderMetrics{}
		}

		failed, err := meter.Int64Counter(
			"papertrade.orders_failed.total",
			metric.WithDescription("Total number of orders that exhausted their attempts"),
			metric.WithUnit("{order}"),
		)
		if err != nil {
			return &OrderMetrics{}
		}

		orderMetrics = &OrderMetrics{
			ordersTriggeredTotal: triggered,
			ordersEnqueuedTotal:  enqueued,
			ordersFailedTotal:    failed,
		}
	}

	return orderMetrics
}

// RecordTriggered increments the triggered orders counter
func (m *OrderMetrics) RecordTriggered(ctx context.Context, symbol, orderType string) {
	if m.ordersTriggeredTotal == nil {
		return
	}

	m.ordersTriggeredTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("order.symbol", symbol),
		attribute.String("order.type", orderType),
	))
}

// RecordEnqueued increments the enqueued orders counter
func (m *OrderMetrics) RecordEnqueued(ctx context.Context, orderType, priority string) {
	if m.ordersEnqueuedTotal == nil {
		return
	}

	m.ordersEnqueuedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("order.type", orderType),
		attribute.String("order.priority", priority),
	))
}

// RecordFailed increments the failed orders counter
func (m *OrderMetrics) RecordFailed(ctx context.Context, orderType string) {
	if m.ordersFailedTotal == nil {
		return
	}

	m.ordersFailedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("order.type", orderType),
	))
}
