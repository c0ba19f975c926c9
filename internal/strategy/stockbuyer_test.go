package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

func stockBuyerConfig() *Config {
	cfg := DefaultConfig()
	cfg.Type = "merger_stock"
	cfg.Symbol = "TGT"
	cfg.DealPrice = decimal.NewFromInt(40)
	cfg.Params["sma_period"] = 3
	cfg.Params["shares"] = 200
	return cfg
}

func stockQuote(bid, ask string) map[string]types.Quote {
	return map[string]types.Quote{
		"TGT.stk": {
			Bid: decimal.RequireFromString(bid),
			Ask: decimal.RequireFromString(ask),
		},
	}
}

// warm feeds enough identical ticks to fill the smoothing window.
func warm(s *StockBuyer, cfg *Config, bid, ask string, n int) {
	for i := 0; i < n; i++ {
		s.Evaluate(stockQuote(bid, ask), cfg)
	}
}

func TestStockBuyer_Registered(t *testing.T) {
	strat, err := New("merger_stock")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := strat.(*StockBuyer); !ok {
		t.Errorf("factory returned %T, want *StockBuyer", strat)
	}
}

func TestStockBuyer_Subscriptions(t *testing.T) {
	s := NewStockBuyer()
	cfg := stockBuyerConfig()

	subs := s.GetSubscriptions(cfg)
	if len(subs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(subs))
	}
	if subs[0].CacheKey != "TGT.stk" {
		t.Errorf("cache key = %s, want TGT.stk", subs[0].CacheKey)
	}
	if subs[0].Contract.IsOption() {
		t.Error("stock buyer subscribed to an option")
	}
}

func TestStockBuyer_WaitsForFullWindow(t *testing.T) {
	s := NewStockBuyer()
	cfg := stockBuyerConfig()

	// Two ticks into a period-3 window: no signal regardless of discount.
	for i := 0; i < 2; i++ {
		if actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg); len(actions) != 0 {
			t.Fatalf("actions = %d on tick %d, want 0 before the window fills", len(actions), i+1)
		}
	}

	if actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg); len(actions) != 1 {
		t.Errorf("actions = %d on the filling tick, want 1", len(actions))
	}
}

func TestStockBuyer_BuysOnSmoothedDiscount(t *testing.T) {
	s := NewStockBuyer()
	cfg := stockBuyerConfig()

	warm(s, cfg, "37.95", "38.05", 2)
	actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg)
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}

	a := actions[0]
	if a.Side != types.SideBuy || a.Kind != types.OrderKindLimit {
		t.Errorf("action = %s %s, want BUY LMT", a.Side, a.Kind)
	}
	if a.Quantity != 200 {
		t.Errorf("quantity = %d, want 200", a.Quantity)
	}
	if !a.LimitPrice.Equal(decimal.RequireFromString("38.05")) {
		t.Errorf("limit = %s, want the ask 38.05", a.LimitPrice)
	}
	if a.Contract.IsOption() {
		t.Error("order is for an option, want stock")
	}
}

func TestStockBuyer_SingleSpikeDoesNotTrigger(t *testing.T) {
	s := NewStockBuyer()
	cfg := stockBuyerConfig()

	// Window filled at the deal price; one discounted print barely moves the
	// smoothed mid, so the edge stays under threshold.
	warm(s, cfg, "39.95", "40.05", 3)
	if actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg); len(actions) != 0 {
		t.Errorf("actions = %d, want 0 on a single discounted print", len(actions))
	}
}

func TestStockBuyer_NeverPaysThroughDealPrice(t *testing.T) {
	s := NewStockBuyer()
	cfg := stockBuyerConfig()

	// Smoothed mid shows a discount, but the current ask sits above the deal
	// price: entering would lock in a loss on close.
	warm(s, cfg, "37.95", "38.05", 3)
	if actions := s.Evaluate(stockQuote("37.00", "40.50"), cfg); len(actions) != 0 {
		t.Errorf("actions = %d, want 0 when the ask exceeds the deal price", len(actions))
	}
}

func TestStockBuyer_WorkingOrderBlocksStacking(t *testing.T) {
	s := NewStockBuyer()
	cfg := stockBuyerConfig()

	warm(s, cfg, "37.95", "38.05", 2)
	actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg)
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}

	s.OnOrderPlaced(201, actions[0], cfg)
	if actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg); len(actions) != 0 {
		t.Fatalf("actions = %d, want 0 while an order works", len(actions))
	}

	s.OnOrderDead(201, types.ErrOrderRejected, cfg)
	if actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg); len(actions) != 1 {
		t.Errorf("actions after order death = %d, want 1", len(actions))
	}
}

func TestStockBuyer_FillStopsBuyingAtTarget(t *testing.T) {
	s := NewStockBuyer()
	cfg := stockBuyerConfig()

	warm(s, cfg, "37.95", "38.05", 2)
	actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg)
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}
	s.OnOrderPlaced(201, actions[0], cfg)
	s.OnFill(201, types.FillData{
		OrderID:      201,
		Status:       types.OrderStatusFilled,
		FilledQty:    200,
		RemainingQty: 0,
		AvgFillPrice: decimal.RequireFromString("38.05"),
		Timestamp:    time.Now(),
	}, cfg)

	if actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg); len(actions) != 0 {
		t.Errorf("actions = %d, want 0 at the share target", len(actions))
	}

	state := s.GetStrategyState()
	if state["holding"] != 200 {
		t.Errorf("holding = %v, want 200", state["holding"])
	}
}

func TestStockBuyer_PeriodChangeRebuildsWindow(t *testing.T) {
	s := NewStockBuyer()
	cfg := stockBuyerConfig()

	warm(s, cfg, "37.95", "38.05", 3)

	// Widening the period invalidates the old window; the next tick starts a
	// fresh one and produces no signal.
	cfg.Params["sma_period"] = 5
	if actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg); len(actions) != 0 {
		t.Errorf("actions = %d, want 0 after a period change", len(actions))
	}
}

func TestStockBuyer_RestoreHolding(t *testing.T) {
	s := NewStockBuyer()
	cfg := stockBuyerConfig()
	s.RestoreHolding(200)

	warm(s, cfg, "37.95", "38.05", 3)
	if actions := s.Evaluate(stockQuote("37.95", "38.05"), cfg); len(actions) != 0 {
		t.Errorf("actions = %d, want 0 after restoring a full position", len(actions))
	}
}
