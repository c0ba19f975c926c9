// Package paper provides a simulated broker gateway for dry runs. Orders are
// acknowledged immediately and filled at their limit price after a configurable
// delay, with status and execution events delivered through the same listener
// path the live gateway uses.
package paper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// Config holds paper gateway configuration.
type Config struct {
	// FillDelay is how long after acknowledgment the simulated fill arrives.
	FillDelay time.Duration

	// AutoFill controls whether acknowledged orders fill at all. When false
	// orders stay working until cancelled.
	AutoFill bool
}

// DefaultConfig returns the default paper gateway configuration.
func DefaultConfig() Config {
	return Config{
		FillDelay: 50 * time.Millisecond,
		AutoFill:  true,
	}
}

// Gateway implements broker.Gateway against an in-memory simulation.
type Gateway struct {
	cfg    Config
	logger *slog.Logger

	connected   atomic.Bool
	nextOrderID atomic.Int64

	bookMu sync.RWMutex
	book   map[int64]*broker.OrderSnapshot

	positionsMu sync.Mutex
	positions   map[string]*broker.PositionSnapshot

	// Last marks for market orders, keyed by symbol.
	marksMu sync.RWMutex
	marks   map[string]decimal.Decimal

	listenerMu sync.RWMutex
	statusL    broker.StatusListener
	execL      broker.ExecutionListener

	done chan struct{}
	wg   sync.WaitGroup
}

// NewGateway creates a paper gateway.
func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:       cfg,
		logger:    logger,
		book:      make(map[int64]*broker.OrderSnapshot),
		positions: make(map[string]*broker.PositionSnapshot),
		marks:     make(map[string]decimal.Decimal),
		done:      make(chan struct{}),
	}
	g.nextOrderID.Store(1)

	return g
}

// Connect marks the gateway connected.
func (g *Gateway) Connect(context.Context) error {
	g.connected.Store(true)
	g.logger.Info("paper gateway connected", "fill_delay", g.cfg.FillDelay)
	return nil
}

// Disconnect stops pending fills and marks the gateway disconnected.
func (g *Gateway) Disconnect() error {
	if !g.connected.Swap(false) {
		return nil
	}
	close(g.done)
	g.wg.Wait()
	g.logger.Info("paper gateway disconnected")
	return nil
}

// IsConnected reports whether the gateway is connected.
func (g *Gateway) IsConnected() bool {
	return g.connected.Load()
}

// SetMark sets the simulated last price for a symbol, used to fill market orders.
func (g *Gateway) SetMark(symbol string, price decimal.Decimal) {
	g.marksMu.Lock()
	g.marks[symbol] = price
	g.marksMu.Unlock()
}

// PlaceOrderSync validates and acknowledges an order, scheduling a simulated
// fill when AutoFill is on.
func (g *Gateway) PlaceOrderSync(_ context.Context, contract types.Contract, order broker.Order, _ time.Duration) (*broker.OrderResult, error) {
	if err := broker.ValidateContract(contract); err != nil {
		return nil, err
	}
	if err := broker.ValidateOrder(order); err != nil {
		return nil, err
	}
	if !g.IsConnected() {
		return nil, types.ErrNotConnected
	}

	orderID := g.nextOrderID.Add(1) - 1

	price, err := g.fillPrice(contract, order)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	g.bookMu.Lock()
	g.book[orderID] = &broker.OrderSnapshot{
		OrderID:      orderID,
		Contract:     contract,
		Order:        order,
		Status:       types.OrderStatusAcknowledged,
		RemainingQty: order.Quantity,
		LastUpdate:   now,
	}
	g.bookMu.Unlock()

	g.logger.Info("paper order acknowledged",
		"order_id", orderID,
		"contract", contract.Describe(),
		"action", order.Action,
		"quantity", order.Quantity,
		"limit", order.LimitPrice,
	)

	if g.cfg.AutoFill {
		g.wg.Add(1)
		go g.fillLater(orderID, contract, order, price)
	}

	return &broker.OrderResult{
		OrderID:      orderID,
		Status:       types.OrderStatusAcknowledged,
		RemainingQty: order.Quantity,
	}, nil
}

// ModifyOrderSync replaces a working order's parameters under its existing id.
func (g *Gateway) ModifyOrderSync(_ context.Context, orderID int64, contract types.Contract, order broker.Order, _ time.Duration) (*broker.OrderResult, error) {
	if orderID == broker.UnboundOrderID {
		return nil, fmt.Errorf("%w: cannot modify unbound order id", types.ErrInvalidOrder)
	}
	if err := broker.ValidateContract(contract); err != nil {
		return nil, err
	}
	if err := broker.ValidateOrder(order); err != nil {
		return nil, err
	}
	if !g.IsConnected() {
		return nil, types.ErrNotConnected
	}

	g.bookMu.Lock()
	snap, ok := g.book[orderID]
	if !ok || snap.Status.IsTerminal() {
		g.bookMu.Unlock()
		return nil, fmt.Errorf("%w: order %d is not working", types.ErrInvalidOrder, orderID)
	}
	snap.Contract = contract
	snap.Order = order
	snap.RemainingQty = order.Quantity - snap.FilledQty
	snap.LastUpdate = time.Now()
	remaining := snap.RemainingQty
	g.bookMu.Unlock()

	return &broker.OrderResult{
		OrderID:      orderID,
		Status:       types.OrderStatusAcknowledged,
		RemainingQty: remaining,
	}, nil
}

// CancelOrderSync cancels a working order; the terminal status arrives as an event.
func (g *Gateway) CancelOrderSync(orderID int64) error {
	if !g.IsConnected() {
		return types.ErrNotConnected
	}

	g.bookMu.Lock()
	snap, ok := g.book[orderID]
	if !ok || snap.Status.IsTerminal() {
		g.bookMu.Unlock()
		return nil
	}
	snap.Status = types.OrderStatusCancelled
	snap.LastUpdate = time.Now()
	filled, remaining := snap.FilledQty, snap.RemainingQty
	g.bookMu.Unlock()

	g.notifyStatus(broker.StatusEvent{
		OrderID:      orderID,
		Status:       types.OrderStatusCancelled,
		FilledQty:    filled,
		RemainingQty: remaining,
		Timestamp:    time.Now(),
	})

	g.logger.Info("paper order cancelled", "order_id", orderID)
	return nil
}

// GetOpenOrdersSnapshot returns the working orders.
func (g *Gateway) GetOpenOrdersSnapshot(context.Context, bool) ([]broker.OrderSnapshot, error) {
	g.bookMu.RLock()
	defer g.bookMu.RUnlock()

	var orders []broker.OrderSnapshot
	for _, o := range g.book {
		if !o.Status.IsTerminal() {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

// GetPositionsSnapshot returns the simulated positions.
func (g *Gateway) GetPositionsSnapshot(context.Context) ([]broker.PositionSnapshot, error) {
	g.positionsMu.Lock()
	defer g.positionsMu.Unlock()

	var positions []broker.PositionSnapshot
	for _, p := range g.positions {
		if p.Quantity != 0 {
			positions = append(positions, *p)
		}
	}
	return positions, nil
}

// SetStatusListener registers the status listener (nil deregisters).
func (g *Gateway) SetStatusListener(l broker.StatusListener) {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	g.statusL = l
}

// SetExecutionListener registers the execution listener (nil deregisters).
func (g *Gateway) SetExecutionListener(l broker.ExecutionListener) {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	g.execL = l
}

// fillPrice picks the simulated fill price: limit orders fill at their limit,
// market orders at the last mark for the symbol.
func (g *Gateway) fillPrice(contract types.Contract, order broker.Order) (decimal.Decimal, error) {
	if order.Kind.HasLimit() && !order.LimitPrice.IsZero() {
		return order.LimitPrice, nil
	}

	g.marksMu.RLock()
	mark, ok := g.marks[contract.Symbol]
	g.marksMu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no mark for %s to fill market order", types.ErrInvalidOrder, contract.Symbol)
	}
	return mark, nil
}

func (g *Gateway) fillLater(orderID int64, contract types.Contract, order broker.Order, price decimal.Decimal) {
	defer g.wg.Done()

	select {
	case <-g.done:
		return
	case <-time.After(g.cfg.FillDelay):
	}

	now := time.Now()

	g.bookMu.Lock()
	snap, ok := g.book[orderID]
	if !ok || snap.Status.IsTerminal() {
		g.bookMu.Unlock()
		return
	}
	snap.Status = types.OrderStatusFilled
	snap.FilledQty = order.Quantity
	snap.RemainingQty = 0
	snap.AvgFillPrice = price
	snap.LastUpdate = now
	g.bookMu.Unlock()

	g.applyFill(contract, order.Action, order.Quantity, price)

	g.logger.Info("paper order filled",
		"order_id", orderID,
		"contract", contract.Describe(),
		"quantity", order.Quantity,
		"price", price,
	)

	g.notifyStatus(broker.StatusEvent{
		OrderID:      orderID,
		Status:       types.OrderStatusFilled,
		FilledQty:    order.Quantity,
		RemainingQty: 0,
		AvgFillPrice: price,
		Timestamp:    now,
	})

	g.notifyExecution(broker.ExecutionEvent{
		OrderID:   orderID,
		ExecID:    fmt.Sprintf("PAPER.%d", orderID),
		Contract:  contract,
		Side:      order.Action,
		Shares:    order.Quantity,
		Price:     price,
		Timestamp: now,
	})
}

// applyFill nets the fill into the simulated position book. Positions are keyed
// by the contract description so different strikes stay separate.
func (g *Gateway) applyFill(contract types.Contract, side types.Side, quantity int, price decimal.Decimal) {
	key := contract.Describe()
	signed := quantity
	if side == types.SideSell {
		signed = -quantity
	}

	g.positionsMu.Lock()
	defer g.positionsMu.Unlock()

	pos, ok := g.positions[key]
	if !ok {
		g.positions[key] = &broker.PositionSnapshot{
			Account:  "PAPER",
			Contract: contract,
			Quantity: signed,
			AvgCost:  price,
		}
		return
	}

	prev := pos.Quantity
	pos.Quantity += signed

	switch {
	case pos.Quantity == 0:
		pos.AvgCost = decimal.Zero
	case (prev >= 0) == (pos.Quantity >= 0) && (prev >= 0) == (signed >= 0):
		// Adding to the position: volume-weighted average cost.
		total := pos.AvgCost.Mul(decimal.NewFromInt(int64(abs(prev)))).
			Add(price.Mul(decimal.NewFromInt(int64(abs(signed)))))
		pos.AvgCost = total.Div(decimal.NewFromInt(int64(abs(pos.Quantity))))
	case (prev >= 0) != (pos.Quantity >= 0):
		// Flipped through zero: cost basis restarts at the fill price.
		pos.AvgCost = price
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (g *Gateway) notifyStatus(ev broker.StatusEvent) {
	g.listenerMu.RLock()
	l := g.statusL
	g.listenerMu.RUnlock()
	if l != nil {
		l(ev)
	}
}

func (g *Gateway) notifyExecution(ev broker.ExecutionEvent) {
	g.listenerMu.RLock()
	l := g.execL
	g.listenerMu.RUnlock()
	if l != nil {
		l(ev)
	}
}

// Ensure Gateway implements broker.Gateway
var _ broker.Gateway = (*Gateway)(nil)
