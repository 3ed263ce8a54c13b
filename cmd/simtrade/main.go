// simtrade runs a self-contained paper-trading session against a
// simulated price feed and prints what the execution core does with a
// handful of conditional orders.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/papertrade/pkg/backend/memory"
	"github.com/erain9/papertrade/pkg/converter"
	"github.com/erain9/papertrade/pkg/core"
	"github.com/erain9/papertrade/pkg/engine"
	"github.com/erain9/papertrade/pkg/lifecycle"
	"github.com/erain9/papertrade/pkg/logging"
	"github.com/erain9/papertrade/pkg/messaging"
)

const symbol = "BTC-USDT"

var (
	header    = color.New(color.FgCyan, color.Bold)
	priceLine = color.New(color.FgYellow)
	triggered = color.New(color.FgGreen, color.Bold)
	dimmed    = color.New(color.Faint)
	bad       = color.New(color.FgRed, color.Bold)
)

func main() {
	logging.Setup(logging.Config{Level: "error", Format: "pretty"})
	ctx := context.Background()

	store := memory.NewMemoryStore()
	manager := lifecycle.NewManager()
	sender := messaging.NewMockReportSender()
	sink := &printingSink{manager: manager, sender: sender}

	eng := engine.NewEngine(converter.NewConverter(), store, nil, sink, time.Second)

	header.Println("=== papertrade simulation ===")
	fmt.Println()

	orders := demoOrders()
	for _, order := range orders {
		if err := store.StoreOrder(ctx, order); err != nil {
			fail(err)
		}
		if err := manager.CreateOrder(order); err != nil {
			fail(err)
		}
		if err := eng.AddOrder(order); err != nil {
			fail(err)
		}
		describe(order)
	}
	fmt.Println()

	// Scripted price path: drift up, establish trailing anchors, then
	// drop through the stops.
	path := []float64{150, 155, 160, 170, 168, 163, 161, 158, 149, 145}
	header.Println("--- price feed ---")
	for _, px := range path {
		price := fpdecimal.FromFloat(px)
		priceLine.Printf("tick %s = %s\n", symbol, price.String())
		eng.CheckTriggerConditions(ctx, symbol, price)
		time.Sleep(50 * time.Millisecond)
	}

	fmt.Println()
	header.Println("--- session summary ---")
	status := eng.GetStatus()
	fmt.Printf("orders processed:  %d\n", status.OrdersProcessed)
	fmt.Printf("orders triggered:  %d\n", status.OrdersTriggered)
	fmt.Printf("reports published: %d\n", len(sender.Reports()))

	stats := manager.GetStatistics()
	fmt.Printf("lifecycle: %d tracked, %d active, %d completed\n",
		stats.TotalOrders, stats.ActiveOrders, stats.CompletedOrders)
	for st, n := range stats.ByStatus {
		dimmed.Printf("  %-17s %d\n", st, n)
	}
}

func demoOrders() []*core.Order {
	sl, err := core.NewStopLossOrder("demo-stop-loss", symbol,
		fpdecimal.FromInt(1), fpdecimal.FromFloat(146.0))
	if err != nil {
		fail(err)
	}

	limitPx := fpdecimal.FromFloat(147.5)
	slim, err := core.NewStopLimitOrder("demo-stop-limit", symbol,
		fpdecimal.FromInt(2), limitPx, fpdecimal.FromFloat(148.0))
	if err != nil {
		fail(err)
	}

	trailPct := fpdecimal.FromFloat(5.0)
	trail, err := core.NewTrailingStopOrder("demo-trailing", symbol,
		fpdecimal.FromInt(1), &trailPct, nil)
	if err != nil {
		fail(err)
	}

	return []*core.Order{sl, slim, trail}
}

func describe(order *core.Order) {
	switch order.OrderType {
	case core.TypeStopLoss:
		fmt.Printf("placed %s: sell %s if price <= %s\n",
			order.ID, order.AbsQuantity(), order.StopPrice)
	case core.TypeStopLimit:
		fmt.Printf("placed %s: limit %s at %s once price <= %s\n",
			order.ID, order.AbsQuantity(), order.Price, order.StopPrice)
	case core.TypeTrailingStop:
		fmt.Printf("placed %s: trail %s%% behind the high\n",
			order.ID, order.TrailPercent)
	}
}

// printingSink narrates executions and keeps lifecycle state current.
type printingSink struct {
	manager *lifecycle.Manager
	sender  *messaging.MockReportSender
}

func (s *printingSink) ExecuteOrder(ctx context.Context, order *core.Order) error {
	triggered.Printf(">>> executing %s: %s %s %s\n",
		order.ID, order.OrderType, order.AbsQuantity(), order.Symbol)

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
	return messaging.NewReportingSink(s.sender).ExecuteOrder(ctx, order)
}

func fail(err error) {
	bad.Fprintf(os.Stderr, "simtrade: %v\n", err)
	os.Exit(1)
}
