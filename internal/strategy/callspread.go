package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/quotes"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

func init() {
	Register("merger_call", func() Strategy { return NewCallBuyer() })
}

// CallBuyer is the reference merger-arb variant. It watches the target stock
// and a call struck under the cash deal price; when the deal spread exceeds
// the configured edge it buys calls up to MaxContracts.
type CallBuyer struct {
	Base

	mu           sync.Mutex
	holding      int
	workingOrder int64
	lastEdge     decimal.Decimal
}

// NewCallBuyer creates an empty call buyer.
func NewCallBuyer() *CallBuyer {
	return &CallBuyer{}
}

func (s *CallBuyer) stockKey(cfg *Config) string { return cfg.Symbol + ".stk" }
func (s *CallBuyer) callKey(cfg *Config) string  { return cfg.Symbol + ".call" }

func (s *CallBuyer) strike(cfg *Config) decimal.Decimal {
	if raw, ok := cfg.Params["strike"]; ok {
		if d, err := toDecimal(raw); err == nil && d.IsPositive() {
			return d
		}
	}
	return cfg.DealPrice.Floor()
}

// GetSubscriptions declares the target stock and the call leg.
func (s *CallBuyer) GetSubscriptions(cfg *Config) []Subscription {
	return []Subscription{
		{
			Contract: types.StockContract(cfg.Symbol),
			CacheKey: s.stockKey(cfg),
			Fields:   []quotes.Field{quotes.FieldBid, quotes.FieldAsk, quotes.FieldLast},
		},
		{
			Contract: types.OptionContract(cfg.Symbol, cfg.ExpectedClose, s.strike(cfg), types.RightCall),
			CacheKey: s.callKey(cfg),
			Fields:   []quotes.Field{quotes.FieldBid, quotes.FieldAsk},
		},
	}
}

// Evaluate buys the call when the deal spread clears the edge threshold.
func (s *CallBuyer) Evaluate(q map[string]types.Quote, cfg *Config) []types.OrderAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workingOrder != 0 || s.holding >= cfg.MaxContracts {
		return nil
	}

	stock, ok := q[s.stockKey(cfg)]
	if !ok {
		return nil
	}
	call, ok := q[s.callKey(cfg)]
	if !ok || !call.Ask.IsPositive() {
		return nil
	}

	mid := stock.Mid()
	if !mid.IsPositive() || !cfg.DealPrice.IsPositive() {
		return nil
	}

	// Deal spread relative to current price; wide spread means the market
	// prices deal risk the call leg can monetize.
	edge := cfg.DealPrice.Sub(mid).Div(mid)
	s.lastEdge = edge

	if edge.LessThan(cfg.EdgeThreshold) {
		return nil
	}

	qty := cfg.MaxContracts - s.holding

	return []types.OrderAction{{
		ID:         uuid.New().String(),
		Side:       types.SideBuy,
		Kind:       types.OrderKindLimit,
		Quantity:   qty,
		Contract:   types.OptionContract(cfg.Symbol, cfg.ExpectedClose, s.strike(cfg), types.RightCall),
		LimitPrice: call.Ask,
		TIF:        cfg.OrderTIF,
		Rationale:  fmt.Sprintf("deal spread %s above edge %s", edge.StringFixed(4), cfg.EdgeThreshold.StringFixed(4)),
		CreatedAt:  time.Now(),
	}}
}

// OnOrderPlaced records the working order so Evaluate stops stacking entries.
func (s *CallBuyer) OnOrderPlaced(orderID int64, _ types.OrderAction, _ *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workingOrder = orderID
}

// OnFill updates the holding; a complete fill clears the working order.
func (s *CallBuyer) OnFill(orderID int64, fill types.FillData, _ *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fill.RemainingQty == 0 {
		s.holding += fill.FilledQty
		if s.workingOrder == orderID {
			s.workingOrder = 0
		}
	}
}

// OnOrderDead clears the working order so the next tick can retry.
func (s *CallBuyer) OnOrderDead(orderID int64, _ error, _ *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workingOrder == orderID {
		s.workingOrder = 0
	}
}

// GetStrategyState returns a telemetry snapshot.
func (s *CallBuyer) GetStrategyState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"holding":       s.holding,
		"working_order": s.workingOrder,
		"last_edge":     s.lastEdge.String(),
	}
}

// RestoreHolding seeds the position from a ledger entry on reload.
func (s *CallBuyer) RestoreHolding(contracts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = contracts
}
