package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/papertrade/pkg/core"
)

func TestNewExecutionReport(t *testing.T) {
	qty := fpdecimal.FromInt(2)
	order, err := core.NewMarketOrder("ord1", "BTC-USDT", core.TypeBuy, qty)
	require.NoError(t, err)
	triggeredAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	report := NewExecutionReport(order, triggeredAt)
	assert.NotEmpty(t, report.ReportID)
	assert.Equal(t, "ord1", report.OrderID)
	assert.Equal(t, "BTC-USDT", report.Symbol)
	assert.Equal(t, string(core.TypeBuy), report.OrderType)
	assert.Equal(t, string(core.ConditionMarket), report.Condition)
	assert.Equal(t, qty.String(), report.Quantity)
	assert.Empty(t, report.Price)
	assert.Equal(t, "2025-06-01T12:00:00Z", report.TriggeredAt)
}

func TestNewExecutionReportCarriesLimitPrice(t *testing.T) {
	order, err := core.NewMarketOrder("ord1", "BTC-USDT", core.TypeBuy, fpdecimal.FromInt(2))
	require.NoError(t, err)
	price := fpdecimal.FromFloat(150.5)
	order.Condition = core.ConditionLimit
	order.Price = core.DecimalPtr(price)

	report := NewExecutionReport(order, time.Now())
	assert.Equal(t, price.String(), report.Price)
}

func TestReportingSinkPublishes(t *testing.T) {
	sender := NewMockReportSender()
	sink := NewReportingSink(sender)

	order, err := core.NewMarketOrder("ord1", "ETH-USDT", core.TypeSell, fpdecimal.FromInt(1))
	require.NoError(t, err)
	require.NoError(t, sink.ExecuteOrder(context.Background(), order))

	reports := sender.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "ord1", reports[0].OrderID)
	assert.Equal(t, string(core.TypeSell), reports[0].OrderType)
}

func TestReportingSinkPropagatesSendError(t *testing.T) {
	sender := NewMockReportSender()
	sender.Err = errors.New("broker down")
	sink := NewReportingSink(sender)

	order, err := core.NewMarketOrder("ord1", "ETH-USDT", core.TypeBuy, fpdecimal.FromInt(1))
	require.NoError(t, err)
	assert.Error(t, sink.ExecuteOrder(context.Background(), order))
}
