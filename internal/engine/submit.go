package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/metrics"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// submissionWorker is the single dedicated worker that talks to the broker.
// It decouples broker latency from the tick cadence; closing submitCh drains
// it, letting in-flight submissions finish.
func (e *Engine) submissionWorker() {
	defer e.workerWg.Done()

	for job := range e.submitCh {
		e.submit(job)
	}
}

func (e *Engine) submit(job submitJob) {
	st := job.state
	action := job.action

	order := broker.Order{
		Action:     action.Side,
		Quantity:   action.Quantity,
		Kind:       action.Kind,
		LimitPrice: action.LimitPrice,
		AuxPrice:   action.AuxPrice,
		TIF:        action.TIF,
	}

	timer := metrics.NewTimer()
	result, err := e.gateway.PlaceOrderSync(context.Background(), action.Contract, order, e.cfg.OrderTimeout)
	timer.ObserveOrder()

	// Completion: the in-flight reservation is released exactly once per
	// submission, success or failure.
	e.releaseInflight()
	st.addInflight(-1)

	if err != nil {
		st.Errors.append(fmt.Sprintf("submit: %v (action %s)", err, action.ID))
		e.recorder.RecordStrategyError(st.ID)
		e.logger.Error("order submission failed",
			"strategy_id", st.ID,
			"action_id", action.ID,
			"contract", action.Contract.Describe(),
			"err", err,
		)
		return
	}

	// A rejection resolved through the wait handle still carries the order
	// id; treat it as a dead order the strategy hears about.
	if result.Status == types.OrderStatusRejected || result.Status == types.OrderStatusInactive {
		st.Errors.append(fmt.Sprintf("submit: order %d %s", result.OrderID, result.Status))
		reason := fmt.Errorf("%w: order %d %s at submission", types.ErrOrderRejected, result.OrderID, result.Status)
		e.callHook(st, "on_order_dead", func() { st.Strategy.OnOrderDead(result.OrderID, reason, st.Config) })
		return
	}

	now := time.Now()
	ao := &types.ActiveOrder{
		OrderID:      result.OrderID,
		PermID:       result.PermID,
		StrategyID:   st.ID,
		Status:       result.Status,
		FilledQty:    result.FilledQty,
		RemainingQty: result.RemainingQty,
		AvgFillPrice: result.AvgFillPrice,
		Action:       action,
		PlacedAt:     now,
		UpdatedAt:    now,
	}
	e.trackOrder(ao)

	st.PlacedCount.Add(1)
	e.recorder.RecordPlaced(st.ID, result.Status.String())

	e.callHook(st, "on_order_placed", func() { st.Strategy.OnOrderPlaced(result.OrderID, action, st.Config) })

	e.logger.Info("order placed",
		"order_id", result.OrderID,
		"perm_id", result.PermID,
		"strategy_id", st.ID,
		"contract", action.Contract.Describe(),
		"status", result.Status.String(),
		"rationale", action.Rationale,
	)

	// Market orders can come back already filled at acknowledgment.
	if result.FilledQty > 0 {
		fill := types.FillData{
			OrderID:      result.OrderID,
			Status:       result.Status,
			FilledQty:    result.FilledQty,
			RemainingQty: result.RemainingQty,
			AvgFillPrice: result.AvgFillPrice,
			PermID:       result.PermID,
			Timestamp:    now,
		}
		e.callHook(st, "on_fill", func() { st.Strategy.OnFill(result.OrderID, fill, st.Config) })

		if result.Status == types.OrderStatusFilled {
			e.untrackOrder(result.OrderID)
		}
	}
}
