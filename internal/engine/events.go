package engine

import (
	"fmt"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/alerting"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// onStatusEvent runs on the broker callback thread. It only enqueues; the
// evaluation thread drains. It must never abort, so a full queue drops the
// event with a warning instead of blocking the callback thread.
func (e *Engine) onStatusEvent(ev broker.StatusEvent) {
	select {
	case e.events <- ev:
	default:
		e.recorder.RecordEventDropped()
		e.logger.Warn("order event queue full, dropping event",
			"order_id", ev.OrderID,
			"status", ev.Status.String(),
		)
	}
}

// onExecutionEvent runs on the broker callback thread. Execution details are
// logged for audit only; status events are authoritative for transitions.
func (e *Engine) onExecutionEvent(ev broker.ExecutionEvent) {
	e.logger.Info("execution report",
		"order_id", ev.OrderID,
		"exec_id", ev.ExecID,
		"contract", ev.Contract.Describe(),
		"side", ev.Side.String(),
		"shares", ev.Shares,
		"price", ev.Price,
	)
}

// drainEvents processes every queued status event. Runs on the evaluation
// thread at the start of each tick.
func (e *Engine) drainEvents() {
	for {
		select {
		case ev := <-e.events:
			e.handleStatusEvent(ev)
		default:
			return
		}
	}
}

// handleStatusEvent applies one status event: fills route to OnFill, terminal
// non-fill states to OnOrderDead, and terminal orders are purged within the
// same drain pass. Duplicate events (same status and filled quantity as last
// seen) are ignored.
func (e *Engine) handleStatusEvent(ev broker.StatusEvent) {
	e.ordersMu.Lock()
	ao, tracked := e.activeOrders[ev.OrderID]
	if !tracked {
		e.ordersMu.Unlock()
		return
	}

	if ev.Status == ao.Status && ev.FilledQty == ao.FilledQty {
		e.ordersMu.Unlock()
		return
	}

	filledRose := ev.FilledQty > ao.FilledQty

	ao.Status = ev.Status
	ao.FilledQty = ev.FilledQty
	ao.RemainingQty = ev.RemainingQty
	ao.AvgFillPrice = ev.AvgFillPrice
	if ev.PermID != 0 {
		ao.PermID = ev.PermID
	}
	if ev.LastError != "" {
		ao.LastError = ev.LastError
	}
	ao.UpdatedAt = ev.Timestamp

	terminal := ev.Status.IsTerminal()
	if terminal {
		delete(e.activeOrders, ev.OrderID)
		delete(e.orderOwner, ev.OrderID)
	}
	ownerID := ao.StrategyID
	e.ordersMu.Unlock()

	e.mu.Lock()
	st, ok := e.strategies[ownerID]
	e.mu.Unlock()
	if !ok {
		// Owner unloaded; tracking is already being torn down.
		return
	}

	if filledRose {
		fill := types.FillData{
			OrderID:      ev.OrderID,
			Status:       ev.Status,
			FilledQty:    ev.FilledQty,
			RemainingQty: ev.RemainingQty,
			AvgFillPrice: ev.AvgFillPrice,
			PermID:       ev.PermID,
			Timestamp:    ev.Timestamp,
		}
		e.callHook(st, "on_fill", func() { st.Strategy.OnFill(ev.OrderID, fill, st.Config) })

		e.logger.Info("order fill",
			"order_id", ev.OrderID,
			"strategy_id", ownerID,
			"filled", ev.FilledQty,
			"remaining", ev.RemainingQty,
			"avg_price", ev.AvgFillPrice,
		)

		if ev.Status == types.OrderStatusFilled {
			e.alert(alerting.EventOrderFilled,
				fmt.Sprintf("Order %d filled for %s", ev.OrderID, ownerID),
				"order_id", ev.OrderID,
				"strategy_id", ownerID,
				"filled", ev.FilledQty,
				"avg_price", ev.AvgFillPrice.String(),
			)
		}
	}

	if terminal && ev.Status != types.OrderStatusFilled {
		reason := deathReason(ev)
		e.callHook(st, "on_order_dead", func() { st.Strategy.OnOrderDead(ev.OrderID, reason, st.Config) })

		e.logger.Info("order dead",
			"order_id", ev.OrderID,
			"strategy_id", ownerID,
			"status", ev.Status.String(),
			"reason", reason,
		)

		e.alert(alerting.EventOrderDead,
			fmt.Sprintf("Order %d for %s died: %v", ev.OrderID, ownerID, reason),
			"order_id", ev.OrderID,
			"strategy_id", ownerID,
			"status", ev.Status.String(),
		)
	}
}

// trackOrder registers a newly acknowledged order.
func (e *Engine) trackOrder(ao *types.ActiveOrder) {
	e.ordersMu.Lock()
	e.activeOrders[ao.OrderID] = ao
	e.orderOwner[ao.OrderID] = ao.StrategyID
	e.ordersMu.Unlock()
}

// untrackOrder purges one order's tracking.
func (e *Engine) untrackOrder(orderID int64) {
	e.ordersMu.Lock()
	delete(e.activeOrders, orderID)
	delete(e.orderOwner, orderID)
	e.ordersMu.Unlock()
}

// ActiveOrders returns a copy of the active-order records.
func (e *Engine) ActiveOrders() []types.ActiveOrder {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()

	out := make([]types.ActiveOrder, 0, len(e.activeOrders))
	for _, ao := range e.activeOrders {
		out = append(out, *ao)
	}
	return out
}

// OwnerOf returns the strategy owning a broker order id.
func (e *Engine) OwnerOf(orderID int64) (string, bool) {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	id, ok := e.orderOwner[orderID]
	return id, ok
}

func deathReason(ev broker.StatusEvent) error {
	switch ev.Status {
	case types.OrderStatusCancelled:
		return fmt.Errorf("order %d cancelled", ev.OrderID)
	case types.OrderStatusRejected:
		if ev.LastError != "" {
			return fmt.Errorf("%w: %s", types.ErrOrderRejected, ev.LastError)
		}
		return types.ErrOrderRejected
	case types.OrderStatusInactive:
		return fmt.Errorf("order %d inactive", ev.OrderID)
	default:
		return fmt.Errorf("order %d terminal status %s", ev.OrderID, ev.Status)
	}
}
