package engine

import (
	"fmt"
	"time"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/alerting"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/metrics"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// loop is the evaluation loop. It is the only caller of Evaluate, the queue
// drain, and the gate pipeline.
func (e *Engine) loop() {
	defer close(e.loopDone)

	e.logger.Info("evaluation loop started")

	for {
		select {
		case <-e.stopCh:
			e.logger.Info("evaluation loop stopped")
			return
		default:
		}

		timer := metrics.NewTimer()

		e.drainEvents()

		e.tickCount++
		if e.cfg.SweepEveryNTicks > 0 && e.tickCount%int64(e.cfg.SweepEveryNTicks) == 0 {
			e.sweepStaleOrders()
		}

		e.evaluateStrategies()

		e.recorder.RecordHeartbeat()
		e.recorder.RecordBrokerStatus(e.gateway.IsConnected())
		if e.resources != nil {
			e.recorder.RecordMarketDataLines(e.resources.ExecutionLinesHeld(), e.resources.AvailableForScan())
		}
		timer.ObserveTick()

		// Sleep the tick remainder; never negative.
		remainder := e.cfg.TickInterval - timer.Elapsed()
		if remainder > 0 {
			select {
			case <-e.stopCh:
			case <-time.After(remainder):
			}
		}
	}
}

// evaluateStrategies runs one tick over every active strategy in registry
// order. One strategy's failure never affects another or the loop.
func (e *Engine) evaluateStrategies() {
	e.mu.Lock()
	states := make([]*StrategyState, 0, len(e.order))
	active := 0
	for _, id := range e.order {
		st := e.strategies[id]

		if !st.Active && st.PauseReason == PauseReasonFlipFlop &&
			e.cfg.FlipFlopCooldown > 0 && time.Since(st.PausedAt) >= e.cfg.FlipFlopCooldown {
			st.Active = true
			st.PauseReason = ""
			e.logger.Info("strategy auto-resumed after cooldown", "strategy_id", st.ID)
		}

		if st.Active {
			states = append(states, st)
			active++
		}
	}
	e.mu.Unlock()

	e.recorder.RecordActiveStrategies(active)

	for _, st := range states {
		e.evaluateOne(st)
	}
}

func (e *Engine) evaluateOne(st *StrategyState) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("evaluate: panic: %v", r)
			st.Errors.append(msg)
			e.recorder.RecordStrategyError(st.ID)
			e.logger.Error("strategy evaluation panicked",
				"strategy_id", st.ID,
				"panic", r,
			)
		}
	}()

	q := make(map[string]types.Quote, len(st.SubscriptionKeys))
	for _, key := range st.SubscriptionKeys {
		if quote := e.cache.Get(key); quote != nil {
			q[key] = *quote
		}
	}

	st.EvalCount.Add(1)

	actions := st.Strategy.Evaluate(q, st.Config)

	for _, action := range actions {
		action.StrategyID = st.ID
		e.offerAction(st, action)
	}
}

// offerAction runs one action through the safety-gate pipeline in fixed
// order. A rejection refunds anything consumed by earlier gates and stops
// further gates for this action.
func (e *Engine) offerAction(st *StrategyState, action types.OrderAction) {
	// Gate 1: order budget. Failure consumed nothing, so no refund.
	if !e.budget.Consume() {
		e.rejectAction(st, action, "budget", types.ErrBudgetExhausted)
		if e.budgetAlerted.CompareAndSwap(false, true) {
			e.alert(alerting.EventBudgetExhausted,
				"Order budget exhausted, all new submissions blocked",
				"strategy_id", st.ID, "action_id", action.ID)
		}
		return
	}

	// Gate 2: flip-flop guard. The only gate with an effect beyond the
	// single action: it pauses the strategy.
	cutoff := time.Now().Add(-e.cfg.FlipFlopWindow)
	if st.flip.countSince(cutoff) >= e.cfg.FlipFlopMaxOrders {
		e.budget.Refund()
		e.rejectAction(st, action, "flip_flop", types.ErrFlipFlopDetected)

		e.mu.Lock()
		e.pauseLocked(st, PauseReasonFlipFlop)
		e.mu.Unlock()
		return
	}

	// Gate 3: global in-flight cap; a pass reserves a slot.
	if !e.reserveInflight() {
		e.budget.Refund()
		e.rejectAction(st, action, "inflight_cap", types.ErrInflightCapReached)
		return
	}

	// Gate 4: connection gate.
	if !e.gateway.IsConnected() {
		e.budget.Refund()
		e.releaseInflight()
		e.rejectAction(st, action, "connection", types.ErrConnectionDown)
		return
	}

	// All gates passed: record the submission timestamp and hand off to the
	// submission worker so this thread never blocks on the broker.
	st.flip.record(time.Now())
	st.SubmitCount.Add(1)
	st.addInflight(1)
	e.recorder.RecordSubmission(st.ID)
	e.recorder.RecordBudget(e.budget.Remaining())

	// The in-flight reservation caps queued jobs at the channel capacity,
	// so this send cannot block.
	e.submitCh <- submitJob{state: st, action: action}
}

func (e *Engine) rejectAction(st *StrategyState, action types.OrderAction, gate string, err error) {
	st.Errors.append(fmt.Sprintf("gate %s: %v (action %s)", gate, err, action.ID))
	e.recorder.RecordGateRejection(gate)

	e.logger.Warn("action rejected",
		"strategy_id", st.ID,
		"gate", gate,
		"action_id", action.ID,
		"err", err,
	)
}

func (e *Engine) reserveInflight() bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()

	if e.inflight >= e.cfg.MaxInflightOrders {
		return false
	}
	e.inflight++
	e.recorder.RecordInflight(e.inflight)
	return true
}

func (e *Engine) releaseInflight() {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()

	if e.inflight > 0 {
		e.inflight--
	}
	e.recorder.RecordInflight(e.inflight)
}

// InflightCount returns the current global in-flight count.
func (e *Engine) InflightCount() int {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	return e.inflight
}

// sweepStaleOrders logs a warning for open orders unchanged past the
// staleness threshold. Diagnostic only.
func (e *Engine) sweepStaleOrders() {
	threshold := time.Now().Add(-e.cfg.StaleOrderThreshold)

	e.ordersMu.Lock()
	var stale []types.ActiveOrder
	for _, ao := range e.activeOrders {
		if ao.UpdatedAt.Before(threshold) {
			stale = append(stale, *ao)
		}
	}
	e.ordersMu.Unlock()

	for _, ao := range stale {
		e.logger.Warn("stale open order",
			"order_id", ao.OrderID,
			"strategy_id", ao.StrategyID,
			"status", ao.Status.String(),
			"age", time.Since(ao.UpdatedAt).Round(time.Second),
		)
	}
}
