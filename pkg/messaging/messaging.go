package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/erain9/papertrade/pkg/core"
)

// ReportSender defines an interface for publishing execution reports.
// This helps decouple the engine from specific implementations like
// Kafka in the kafka subpackage.
type ReportSender interface {
	SendExecutionReport(report *ExecutionReport) error
}

// ExecutionReport is published downstream when a conditional order
// triggers and its executable form is dispatched. Decimal values are
// carried as strings.
type ExecutionReport struct {
	ReportID    string `json:"report_id"`
	OrderID     string `json:"order_id"`
	Symbol      string `json:"symbol"`
	OrderType   string `json:"order_type"`
	Condition   string `json:"condition"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price,omitempty"`
	TriggeredAt string `json:"triggered_at"`
}

// FillReport arrives from the execution venue when an order fills,
// fully or partially.
type FillReport struct {
	OrderID      string `json:"order_id"`
	Symbol       string `json:"symbol"`
	FillQuantity string `json:"fill_quantity"`
	FillPrice    string `json:"fill_price"`
	Commission   string `json:"commission,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// NewExecutionReport builds a report from an executable order.
func NewExecutionReport(order *core.Order, triggeredAt time.Time) *ExecutionReport {
	report := &ExecutionReport{
		ReportID:    uuid.NewString(),
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		OrderType:   string(order.OrderType),
		Condition:   string(order.Condition),
		Quantity:    order.Quantity.String(),
		TriggeredAt: triggeredAt.UTC().Format(time.RFC3339Nano),
	}
	if order.Price != nil {
		report.Price = order.Price.String()
	}
	return report
}

// ReportingSink forwards triggered orders to a ReportSender. It
// satisfies the engine's execution sink contract.
type ReportingSink struct {
	sender ReportSender
}

// NewReportingSink wraps a sender as an execution sink.
func NewReportingSink(sender ReportSender) *ReportingSink {
	return &ReportingSink{sender: sender}
}

// ExecuteOrder publishes an execution report for the order.
func (s *ReportingSink) ExecuteOrder(_ context.Context, order *core.Order) error {
	return s.sender.SendExecutionReport(NewExecutionReport(order, time.Now()))
}
