package paper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

func newConnected(t *testing.T, tweak func(*Config)) *Gateway {
	t.Helper()

	cfg := DefaultConfig()
	cfg.FillDelay = 5 * time.Millisecond
	if tweak != nil {
		tweak(&cfg)
	}

	g := NewGateway(cfg, nil)
	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	t.Cleanup(func() { _ = g.Disconnect() })

	return g
}

func optionContract() types.Contract {
	return types.Contract{
		Symbol:  "ACME",
		SecType: types.SecTypeOption,
		Expiry:  "20261218",
		Strike:  decimal.NewFromInt(40),
		Right:   types.RightCall,
	}
}

func limitBuy(qty int, price string) broker.Order {
	return broker.Order{
		Action:     types.SideBuy,
		Quantity:   qty,
		Kind:       types.OrderKindLimit,
		LimitPrice: decimal.RequireFromString(price),
		TIF:        types.TIFDay,
	}
}

// eventSink collects status events until an expected count arrives.
type eventSink struct {
	mu     sync.Mutex
	events []broker.StatusEvent
}

func (s *eventSink) listen(ev broker.StatusEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) wait(t *testing.T, n int) []broker.StatusEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.events) >= n {
			out := make([]broker.StatusEvent, len(s.events))
			copy(out, s.events)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d status events", n)
	return nil
}

func TestPlaceOrderSync_AcknowledgesAndFills(t *testing.T) {
	g := newConnected(t, nil)
	sink := &eventSink{}
	g.SetStatusListener(sink.listen)

	res, err := g.PlaceOrderSync(context.Background(), optionContract(), limitBuy(3, "2.50"), time.Second)
	if err != nil {
		t.Fatalf("PlaceOrderSync error: %v", err)
	}
	if res.Status != types.OrderStatusAcknowledged {
		t.Errorf("status = %v, want Acknowledged", res.Status)
	}
	if res.RemainingQty != 3 {
		t.Errorf("remaining = %d, want 3", res.RemainingQty)
	}

	events := sink.wait(t, 1)
	fill := events[0]
	if fill.OrderID != res.OrderID || fill.Status != types.OrderStatusFilled {
		t.Errorf("fill event = %+v", fill)
	}
	if fill.FilledQty != 3 || fill.RemainingQty != 0 {
		t.Errorf("fill quantities = %d/%d, want 3/0", fill.FilledQty, fill.RemainingQty)
	}
	// Limit orders fill at their limit price.
	if !fill.AvgFillPrice.Equal(decimal.RequireFromString("2.50")) {
		t.Errorf("fill price = %s, want 2.50", fill.AvgFillPrice)
	}
}

func TestFilledOrderLeavesOpenOrders(t *testing.T) {
	g := newConnected(t, nil)
	sink := &eventSink{}
	g.SetStatusListener(sink.listen)

	if _, err := g.PlaceOrderSync(context.Background(), optionContract(), limitBuy(1, "2.50"), time.Second); err != nil {
		t.Fatal(err)
	}
	sink.wait(t, 1)

	orders, err := g.GetOpenOrdersSnapshot(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Errorf("open orders = %d, want 0 after fill", len(orders))
	}
}

func TestFillUpdatesPositions(t *testing.T) {
	g := newConnected(t, nil)
	sink := &eventSink{}
	g.SetStatusListener(sink.listen)
	ctx := context.Background()

	if _, err := g.PlaceOrderSync(ctx, optionContract(), limitBuy(2, "2.40"), time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := g.PlaceOrderSync(ctx, optionContract(), limitBuy(2, "2.60"), time.Second); err != nil {
		t.Fatal(err)
	}
	sink.wait(t, 2)

	positions, err := g.GetPositionsSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	p := positions[0]
	if p.Quantity != 4 {
		t.Errorf("quantity = %d, want 4", p.Quantity)
	}
	// Volume-weighted cost of 2@2.40 and 2@2.60.
	if !p.AvgCost.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("avg cost = %s, want 2.5", p.AvgCost)
	}
}

func TestSellNetsPositionDown(t *testing.T) {
	g := newConnected(t, nil)
	sink := &eventSink{}
	g.SetStatusListener(sink.listen)
	ctx := context.Background()

	if _, err := g.PlaceOrderSync(ctx, optionContract(), limitBuy(3, "2.50"), time.Second); err != nil {
		t.Fatal(err)
	}
	sink.wait(t, 1)

	sell := limitBuy(3, "2.80")
	sell.Action = types.SideSell
	if _, err := g.PlaceOrderSync(ctx, optionContract(), sell, time.Second); err != nil {
		t.Fatal(err)
	}
	sink.wait(t, 2)

	positions, err := g.GetPositionsSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 0 {
		t.Errorf("positions = %d, want 0 after flat", len(positions))
	}
}

func TestCancelBeforeFill(t *testing.T) {
	g := newConnected(t, func(c *Config) { c.AutoFill = false })
	sink := &eventSink{}
	g.SetStatusListener(sink.listen)

	res, err := g.PlaceOrderSync(context.Background(), optionContract(), limitBuy(1, "2.50"), time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if err := g.CancelOrderSync(res.OrderID); err != nil {
		t.Fatalf("CancelOrderSync error: %v", err)
	}

	events := sink.wait(t, 1)
	if events[0].Status != types.OrderStatusCancelled {
		t.Errorf("event status = %v, want Cancelled", events[0].Status)
	}

	orders, err := g.GetOpenOrdersSnapshot(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Errorf("open orders = %d, want 0 after cancel", len(orders))
	}
}

func TestModifyOrderSync(t *testing.T) {
	g := newConnected(t, func(c *Config) { c.AutoFill = false })

	res, err := g.PlaceOrderSync(context.Background(), optionContract(), limitBuy(1, "2.50"), time.Second)
	if err != nil {
		t.Fatal(err)
	}

	modified, err := g.ModifyOrderSync(context.Background(), res.OrderID, optionContract(), limitBuy(2, "2.60"), time.Second)
	if err != nil {
		t.Fatalf("ModifyOrderSync error: %v", err)
	}
	if modified.RemainingQty != 2 {
		t.Errorf("remaining = %d, want 2", modified.RemainingQty)
	}

	orders, err := g.GetOpenOrdersSnapshot(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || !orders[0].Order.LimitPrice.Equal(decimal.RequireFromString("2.60")) {
		t.Errorf("book order = %+v, want limit 2.60", orders)
	}

	if _, err := g.ModifyOrderSync(context.Background(), broker.UnboundOrderID, optionContract(), limitBuy(1, "2.50"), time.Second); !errors.Is(err, types.ErrInvalidOrder) {
		t.Errorf("unbound modify err = %v, want ErrInvalidOrder", err)
	}
}

func TestMarketOrderNeedsMark(t *testing.T) {
	g := newConnected(t, nil)
	sink := &eventSink{}
	g.SetStatusListener(sink.listen)
	ctx := context.Background()

	market := broker.Order{
		Action:   types.SideBuy,
		Quantity: 1,
		Kind:     types.OrderKindMarket,
		TIF:      types.TIFDay,
	}
	stock := types.Contract{Symbol: "ACME", SecType: types.SecTypeStock}

	if _, err := g.PlaceOrderSync(ctx, stock, market, time.Second); !errors.Is(err, types.ErrInvalidOrder) {
		t.Errorf("err = %v, want ErrInvalidOrder without a mark", err)
	}

	g.SetMark("ACME", decimal.RequireFromString("39.95"))
	if _, err := g.PlaceOrderSync(ctx, stock, market, time.Second); err != nil {
		t.Fatalf("PlaceOrderSync error: %v", err)
	}

	events := sink.wait(t, 1)
	if !events[0].AvgFillPrice.Equal(decimal.RequireFromString("39.95")) {
		t.Errorf("fill price = %s, want mark 39.95", events[0].AvgFillPrice)
	}
}

func TestDisconnectedRejectsCalls(t *testing.T) {
	g := NewGateway(DefaultConfig(), nil)

	if _, err := g.PlaceOrderSync(context.Background(), optionContract(), limitBuy(1, "2.50"), time.Second); !errors.Is(err, types.ErrNotConnected) {
		t.Errorf("place err = %v, want ErrNotConnected", err)
	}
	if err := g.CancelOrderSync(1); !errors.Is(err, types.ErrNotConnected) {
		t.Errorf("cancel err = %v, want ErrNotConnected", err)
	}
}
