package ibkr

import (
	"context"
	"fmt"
	"time"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// PlaceOrderSync validates, assigns a fresh broker-sequenced id, registers a
// wait handle keyed by that id, submits, and blocks until a matching status
// or error callback resolves the wait or the timeout elapses.
func (c *Client) PlaceOrderSync(ctx context.Context, contract types.Contract, order broker.Order, timeout time.Duration) (*broker.OrderResult, error) {
	if err := broker.ValidateContract(contract); err != nil {
		return nil, err
	}
	if err := broker.ValidateOrder(order); err != nil {
		return nil, err
	}
	if !c.IsConnected() {
		return nil, types.ErrNotConnected
	}

	orderID := c.nextOrderID.Add(1) - 1
	return c.submitAndWait(ctx, orderID, contract, order, timeout)
}

// ModifyOrderSync resubmits under an existing broker order id; brokers treat
// same-id resubmission as modification. Fails fast for the unbound sentinel.
func (c *Client) ModifyOrderSync(ctx context.Context, orderID int64, contract types.Contract, order broker.Order, timeout time.Duration) (*broker.OrderResult, error) {
	if orderID == broker.UnboundOrderID {
		return nil, fmt.Errorf("%w: cannot modify unbound order id", types.ErrInvalidOrder)
	}
	if err := broker.ValidateContract(contract); err != nil {
		return nil, err
	}
	if err := broker.ValidateOrder(order); err != nil {
		return nil, err
	}
	if !c.IsConnected() {
		return nil, types.ErrNotConnected
	}

	return c.submitAndWait(ctx, orderID, contract, order, timeout)
}

func (c *Client) submitAndWait(ctx context.Context, orderID int64, contract types.Contract, order broker.Order, timeout time.Duration) (*broker.OrderResult, error) {
	ch := c.registerWait(orderID)

	msg := buildPlaceOrderMessage(orderID, c.cfg.ClientID, contract, order)
	if err := c.sendMessage(msg); err != nil {
		c.removeWait(orderID)
		return nil, fmt.Errorf("send order: %w", err)
	}

	c.logger.Info("order submitted",
		"order_id", orderID,
		"contract", contract.Describe(),
		"action", order.Action,
		"quantity", order.Quantity,
		"kind", order.Kind,
		"limit", order.LimitPrice,
	)

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		c.removeWait(orderID)
		return nil, ctx.Err()
	case <-time.After(timeout):
		c.removeWait(orderID)
		return nil, fmt.Errorf("%w: order %d unresolved after %s", types.ErrOrderTimeout, orderID, timeout)
	}
}

// CancelOrderSync is fire-and-forget; confirmation arrives later as a status event.
func (c *Client) CancelOrderSync(orderID int64) error {
	if !c.IsConnected() {
		return types.ErrNotConnected
	}

	if err := c.sendMessage(joinFields(reqCancelOrder, 1, orderID, "")); err != nil {
		return fmt.Errorf("send cancel: %w", err)
	}

	c.logger.Info("order cancel requested", "order_id", orderID)
	return nil
}

// GetOpenOrdersSnapshot returns the broker-known open orders. Without
// forceRefresh the live book serves the request directly; with it a full dump
// is requested and the call blocks for the terminating openOrderEnd signal.
func (c *Client) GetOpenOrdersSnapshot(ctx context.Context, forceRefresh bool) ([]broker.OrderSnapshot, error) {
	if !forceRefresh {
		return c.openOrdersFromBook(), nil
	}

	if !c.IsConnected() {
		return nil, types.ErrNotConnected
	}

	c.snapMu.Lock()
	if c.openOrderEnd == nil {
		c.openOrderEnd = make(chan struct{})
	}
	end := c.openOrderEnd
	c.snapMu.Unlock()

	if err := c.sendMessage(joinFields(reqAllOpenOrders, 1)); err != nil {
		return nil, fmt.Errorf("request open orders: %w", err)
	}

	select {
	case <-end:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.cfg.RequestTimeout):
		return nil, fmt.Errorf("%w: open orders dump", types.ErrOrderTimeout)
	}

	return c.openOrdersFromBook(), nil
}

// GetPositionsSnapshot requests a full broker position dump and blocks for
// the terminating positionEnd signal.
func (c *Client) GetPositionsSnapshot(ctx context.Context) ([]broker.PositionSnapshot, error) {
	if !c.IsConnected() {
		return nil, types.ErrNotConnected
	}

	c.snapMu.Lock()
	c.positions = nil
	if c.positionEnd == nil {
		c.positionEnd = make(chan struct{})
	}
	end := c.positionEnd
	c.snapMu.Unlock()

	if err := c.sendMessage(joinFields(reqPositions, 1)); err != nil {
		return nil, fmt.Errorf("request positions: %w", err)
	}

	select {
	case <-end:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.cfg.RequestTimeout):
		return nil, fmt.Errorf("%w: positions dump", types.ErrOrderTimeout)
	}

	c.snapMu.Lock()
	positions := make([]broker.PositionSnapshot, len(c.positions))
	copy(positions, c.positions)
	c.positions = nil
	c.snapMu.Unlock()

	return positions, nil
}

// OrderIDForPermID resolves a permanent id to the current broker order id.
// Perm ids are stable across order-id rebinding between sessions.
func (c *Client) OrderIDForPermID(permID int64) (int64, bool) {
	c.bookMu.RLock()
	defer c.bookMu.RUnlock()
	id, ok := c.permIDs[permID]
	return id, ok
}

func (c *Client) openOrdersFromBook() []broker.OrderSnapshot {
	c.bookMu.RLock()
	defer c.bookMu.RUnlock()

	var orders []broker.OrderSnapshot
	for _, o := range c.book {
		if !o.Status.IsTerminal() {
			orders = append(orders, *o)
		}
	}
	return orders
}

// registerWait registers a wait handle for an order id.
func (c *Client) registerWait(orderID int64) chan waitResult {
	ch := make(chan waitResult, 1)
	c.waitsMu.Lock()
	c.waits[orderID] = ch
	c.waitsMu.Unlock()
	return ch
}

func (c *Client) removeWait(orderID int64) {
	c.waitsMu.Lock()
	delete(c.waits, orderID)
	c.waitsMu.Unlock()
}

// resolveWait resolves a pending wait, if any. Each wait resolves at most once.
func (c *Client) resolveWait(orderID int64, res waitResult) bool {
	c.waitsMu.Lock()
	ch, ok := c.waits[orderID]
	if ok {
		delete(c.waits, orderID)
	}
	c.waitsMu.Unlock()

	if ok {
		ch <- res
	}
	return ok
}

// handleOrderStatus processes an orderStatus callback. The live book is
// updated before any wait resolution or listener notification, so the book is
// always at least as current as the event queue.
func (c *Client) handleOrderStatus(f *fieldReader) {
	f.skip() // version
	orderID := f.i64()
	statusStr := f.str()
	filled := f.int()
	remaining := f.int()
	avgFillPrice := f.dec()
	permID := f.i64()
	if f.failed() {
		c.logger.Debug("malformed orderStatus message")
		return
	}

	status := mapStatus(statusStr, filled, remaining)
	now := time.Now()

	c.bookMu.Lock()
	snap, ok := c.book[orderID]
	if !ok {
		// Orders placed outside this process still get bound and tracked.
		snap = &broker.OrderSnapshot{OrderID: orderID}
		c.book[orderID] = snap
	}
	snap.Status = status
	snap.FilledQty = filled
	snap.RemainingQty = remaining
	snap.AvgFillPrice = avgFillPrice
	snap.PermID = permID
	snap.LastUpdate = now
	if permID != 0 {
		c.permIDs[permID] = orderID
	}
	c.bookMu.Unlock()

	c.logger.Debug("order status",
		"order_id", orderID,
		"status", status.String(),
		"filled", filled,
		"remaining", remaining,
	)

	c.resolveWait(orderID, waitResult{result: &broker.OrderResult{
		OrderID:      orderID,
		PermID:       permID,
		Status:       status,
		FilledQty:    filled,
		RemainingQty: remaining,
		AvgFillPrice: avgFillPrice,
	}})

	c.notifyStatus(broker.StatusEvent{
		OrderID:      orderID,
		PermID:       permID,
		Status:       status,
		FilledQty:    filled,
		RemainingQty: remaining,
		AvgFillPrice: avgFillPrice,
		Timestamp:    now,
	})
}

// handleErrMsg processes an error callback. Errors addressed to a pending
// wait resolve it with a typed rejection; otherwise only the book is updated.
func (c *Client) handleErrMsg(f *fieldReader) {
	f.skip() // version
	id := f.i64()
	code := f.int()
	msg := f.str()
	if f.failed() {
		return
	}

	if isNotice(code) {
		c.logger.Info("broker notice", "code", code, "msg", msg)
		return
	}

	if code == codeConnectivityLost {
		c.logger.Error("broker connectivity lost", "msg", msg)
		c.state.Store(int32(broker.StateError))
	}

	err := translateError(code, msg)

	if id > 0 && c.resolveWait(id, waitResult{err: err}) {
		c.logger.Warn("order rejected",
			"order_id", id,
			"code", code,
			"msg", msg,
		)
		return
	}

	if id > 0 {
		now := time.Now()
		c.bookMu.Lock()
		if snap, ok := c.book[id]; ok {
			snap.LastError = msg
			snap.LastUpdate = now
		}
		c.bookMu.Unlock()

		c.notifyStatus(broker.StatusEvent{
			OrderID:   id,
			Status:    types.OrderStatusRejected,
			LastError: msg,
			Timestamp: now,
		})
	}

	c.logger.Warn("broker error", "id", id, "code", code, "msg", msg)
}

// handleOpenOrder processes an openOrder callback, binding the full contract
// and order parameters into the live book.
func (c *Client) handleOpenOrder(f *fieldReader) {
	f.skip() // version
	orderID := f.i64()

	contract := types.Contract{
		Symbol:  f.str(),
		SecType: types.SecType(f.str()),
		Expiry:  f.str(),
		Strike:  f.dec(),
		Right:   types.Right(f.str()),
	}
	multiplier := f.str()
	contract.Exchange = f.str()
	contract.Currency = f.str()
	contract.LocalSymbol = f.str()

	order := broker.Order{}
	if f.str() == "SELL" {
		order.Action = types.SideSell
	}
	order.Quantity = f.int()
	order.Kind = types.OrderKind(f.str())
	order.LimitPrice = f.dec()
	order.AuxPrice = f.dec()
	order.TIF = types.TimeInForce(f.str())
	statusStr := f.str()
	clientID := f.int()
	permID := f.i64()

	if f.failed() {
		c.logger.Debug("malformed openOrder message")
		return
	}

	if m, err := parseMultiplier(multiplier); err == nil {
		contract.Multiplier = m
	}

	c.bookMu.Lock()
	snap, ok := c.book[orderID]
	if !ok {
		snap = &broker.OrderSnapshot{OrderID: orderID}
		c.book[orderID] = snap
	}
	snap.Contract = contract
	snap.Order = order
	snap.ClientID = clientID
	snap.PermID = permID
	snap.Status = mapStatus(statusStr, snap.FilledQty, snap.RemainingQty)
	snap.LastUpdate = time.Now()
	if permID != 0 {
		c.permIDs[permID] = orderID
	}
	c.bookMu.Unlock()

	c.logger.Debug("open order bound",
		"order_id", orderID,
		"contract", contract.Describe(),
		"client_id", clientID,
	)
}

// handleExecutionData processes an execution report. Audit only; the engine
// treats status events as authoritative.
func (c *Client) handleExecutionData(f *fieldReader) {
	f.skip() // version
	orderID := f.i64()
	execID := f.str()
	contract := types.Contract{
		Symbol:  f.str(),
		SecType: types.SecType(f.str()),
	}
	side := types.SideBuy
	if f.str() == "SLD" {
		side = types.SideSell
	}
	shares := f.int()
	price := f.dec()
	if f.failed() {
		return
	}

	c.notifyExecution(broker.ExecutionEvent{
		OrderID:   orderID,
		ExecID:    execID,
		Contract:  contract,
		Side:      side,
		Shares:    shares,
		Price:     price,
		Timestamp: time.Now(),
	})
}

func (c *Client) handleOpenOrderEnd() {
	c.snapMu.Lock()
	if c.openOrderEnd != nil {
		close(c.openOrderEnd)
		c.openOrderEnd = nil
	}
	c.snapMu.Unlock()
}

func (c *Client) handlePosition(f *fieldReader) {
	f.skip() // version
	account := f.str()
	contract := types.Contract{
		Symbol:  f.str(),
		SecType: types.SecType(f.str()),
		Expiry:  f.str(),
		Strike:  f.dec(),
		Right:   types.Right(f.str()),
	}
	multiplier := f.str()
	contract.Exchange = f.str()
	contract.Currency = f.str()
	contract.LocalSymbol = f.str()
	quantity := f.int()
	avgCost := f.dec()
	if f.failed() {
		return
	}

	if m, err := parseMultiplier(multiplier); err == nil {
		contract.Multiplier = m
	}

	c.snapMu.Lock()
	c.positions = append(c.positions, broker.PositionSnapshot{
		Account:  account,
		Contract: contract,
		Quantity: quantity,
		AvgCost:  avgCost,
	})
	c.snapMu.Unlock()
}

func (c *Client) handlePositionEnd() {
	c.snapMu.Lock()
	if c.positionEnd != nil {
		close(c.positionEnd)
		c.positionEnd = nil
	}
	c.snapMu.Unlock()
}

func (c *Client) notifyStatus(ev broker.StatusEvent) {
	c.listenerMu.RLock()
	l := c.statusL
	c.listenerMu.RUnlock()
	if l != nil {
		l(ev)
	}
}

func (c *Client) notifyExecution(ev broker.ExecutionEvent) {
	c.listenerMu.RLock()
	l := c.execL
	c.listenerMu.RUnlock()
	if l != nil {
		l(ev)
	}
}

// buildPlaceOrderMessage builds a PLACE_ORDER message.
func buildPlaceOrderMessage(orderID int64, clientID int, contract types.Contract, order broker.Order) string {
	return joinFields(
		reqPlaceOrder,
		45, // message version
		orderID,
		contract.Symbol,
		contract.SecType,
		contract.Expiry,
		contract.Strike,
		contract.Right,
		contract.Multiplier,
		contract.Exchange,
		contract.Currency,
		contract.LocalSymbol,
		order.Action,
		order.Quantity,
		order.Kind,
		order.LimitPrice,
		order.AuxPrice,
		order.TIF,
		clientID,
	)
}

// mapStatus translates a TWS status string into an order status. Partial
// fills report as Submitted with a non-zero filled quantity.
func mapStatus(s string, filled, remaining int) types.OrderStatus {
	switch s {
	case "PendingSubmit", "PendingCancel":
		return types.OrderStatusSubmitted
	case "PreSubmitted", "Submitted":
		if filled > 0 && remaining > 0 {
			return types.OrderStatusPartiallyFilled
		}
		return types.OrderStatusAcknowledged
	case "Filled":
		return types.OrderStatusFilled
	case "Cancelled", "ApiCancelled":
		return types.OrderStatusCancelled
	case "Inactive":
		return types.OrderStatusInactive
	default:
		return types.OrderStatusSubmitted
	}
}

func parseMultiplier(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty multiplier")
	}
	var m int
	_, err := fmt.Sscanf(s, "%d", &m)
	return m, err
}
