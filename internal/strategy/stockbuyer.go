package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/quotes"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/pkg/indicator"
)

func init() {
	Register("merger_stock", func() Strategy { return NewStockBuyer() })
}

const defaultSMAPeriod = 20

// StockBuyer buys the target stock outright when it trades at a persistent
// discount to the cash deal price. The discount is measured against an
// SMA-smoothed mid rather than the raw tick, so a single wide print never
// triggers an entry.
type StockBuyer struct {
	Base

	mu           sync.Mutex
	sma          *indicator.SMA
	holding      int
	workingOrder int64
	lastEdge     decimal.Decimal
}

// NewStockBuyer creates an empty stock buyer.
func NewStockBuyer() *StockBuyer {
	return &StockBuyer{}
}

func (s *StockBuyer) stockKey(cfg *Config) string { return cfg.Symbol + ".stk" }

func (s *StockBuyer) smaPeriod(cfg *Config) int {
	if raw, ok := cfg.Params["sma_period"]; ok {
		if n, ok := toInt(raw); ok && n > 0 {
			return n
		}
	}
	return defaultSMAPeriod
}

// maxShares is the target position size in shares.
func (s *StockBuyer) maxShares(cfg *Config) int {
	if raw, ok := cfg.Params["shares"]; ok {
		if n, ok := toInt(raw); ok && n > 0 {
			return n
		}
	}
	return 100
}

// GetSubscriptions declares the target stock only.
func (s *StockBuyer) GetSubscriptions(cfg *Config) []Subscription {
	return []Subscription{
		{
			Contract: types.StockContract(cfg.Symbol),
			CacheKey: s.stockKey(cfg),
			Fields:   []quotes.Field{quotes.FieldBid, quotes.FieldAsk, quotes.FieldLast},
		},
	}
}

// Evaluate feeds the smoothing window every tick and buys the remaining
// shares once the smoothed discount clears the edge threshold.
func (s *StockBuyer) Evaluate(q map[string]types.Quote, cfg *Config) []types.OrderAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	stock, ok := q[s.stockKey(cfg)]
	if !ok {
		return nil
	}
	mid := stock.Mid()
	if !mid.IsPositive() || !cfg.DealPrice.IsPositive() {
		return nil
	}

	// The window keeps filling while an order works or the position is full,
	// so a later entry decision never starts from stale data. A hot-merged
	// period change rebuilds the window.
	if s.sma == nil || s.sma.Period() != s.smaPeriod(cfg) {
		s.sma = indicator.NewSMA(s.smaPeriod(cfg))
	}
	smoothed := s.sma.Update(mid)
	if !s.sma.Ready() {
		return nil
	}

	if s.workingOrder != 0 || s.holding >= s.maxShares(cfg) {
		return nil
	}

	edge := cfg.DealPrice.Sub(smoothed).Div(smoothed)
	s.lastEdge = edge

	if edge.LessThan(cfg.EdgeThreshold) {
		return nil
	}

	// Never pay through the deal price.
	if !stock.Ask.IsPositive() || stock.Ask.GreaterThanOrEqual(cfg.DealPrice) {
		return nil
	}

	qty := s.maxShares(cfg) - s.holding

	return []types.OrderAction{{
		ID:         uuid.New().String(),
		Side:       types.SideBuy,
		Kind:       types.OrderKindLimit,
		Quantity:   qty,
		Contract:   types.StockContract(cfg.Symbol),
		LimitPrice: stock.Ask,
		TIF:        cfg.OrderTIF,
		Rationale:  fmt.Sprintf("smoothed discount %s above edge %s", edge.StringFixed(4), cfg.EdgeThreshold.StringFixed(4)),
		CreatedAt:  time.Now(),
	}}
}

// OnOrderPlaced records the working order so Evaluate stops stacking entries.
func (s *StockBuyer) OnOrderPlaced(orderID int64, _ types.OrderAction, _ *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workingOrder = orderID
}

// OnFill updates the holding; a complete fill clears the working order.
func (s *StockBuyer) OnFill(orderID int64, fill types.FillData, _ *Config) {
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
func (s *StockBuyer) OnOrderDead(orderID int64, _ error, _ *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workingOrder == orderID {
		s.workingOrder = 0
	}
}

// GetStrategyState returns a telemetry snapshot.
func (s *StockBuyer) GetStrategyState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := 0
	if s.sma != nil {
		window = s.sma.Count()
	}
	return map[string]any{
		"holding":       s.holding,
		"working_order": s.workingOrder,
		"last_edge":     s.lastEdge.String(),
		"sma_window":    window,
	}
}

// RestoreHolding seeds the position from a ledger entry on reload.
func (s *StockBuyer) RestoreHolding(shares int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = shares
}
