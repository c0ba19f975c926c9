// Package engine implements the order-execution core: the strategy registry,
// the evaluation loop, the safety-gate pipeline, and order-lifecycle
// bookkeeping.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/alerting"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/metrics"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/quotes"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/resource"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/strategy"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// PauseReasonFlipFlop marks a strategy paused by the flip-flop guard.
const PauseReasonFlipFlop = "flip_flop"

// Config holds engine configuration.
type Config struct {
	TickInterval        time.Duration
	SweepEveryNTicks    int
	StaleOrderThreshold time.Duration

	FlipFlopWindow    time.Duration
	FlipFlopMaxOrders int
	// FlipFlopCooldown > 0 auto-resumes a flip-flop-paused strategy after
	// the cooldown; zero requires an explicit operator resume.
	FlipFlopCooldown time.Duration

	MaxInflightOrders int
	OrderTimeout      time.Duration
	ErrorLogSize      int
	EventQueueSize    int

	// CancelOnUnload cancels a strategy's open broker orders when it
	// unloads; the default leaves them working.
	CancelOnUnload bool
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		TickInterval:        100 * time.Millisecond,
		SweepEveryNTicks:    20,
		StaleOrderThreshold: 60 * time.Second,
		FlipFlopWindow:      10 * time.Second,
		FlipFlopMaxOrders:   5,
		MaxInflightOrders:   10,
		OrderTimeout:        10 * time.Second,
		ErrorLogSize:        20,
		EventQueueSize:      1024,
	}
}

type submitJob struct {
	state  *StrategyState
	action types.OrderAction
}

// Engine coordinates strategies, safety gates, and the broker gateway.
// Construct one per running agent and inject its collaborators; tests build
// isolated instances the same way.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	gateway   broker.Gateway
	cache     quotes.Cache
	resources *resource.Manager
	recorder  *metrics.Recorder

	// Registry; load/unload is serialized with the management surface.
	mu         sync.Mutex
	running    bool
	strategies map[string]*StrategyState
	order      []string

	// Order bookkeeping, touched by the evaluation thread and the
	// submission worker's completion path.
	ordersMu     sync.Mutex
	activeOrders map[int64]*types.ActiveOrder
	orderOwner   map[int64]string

	// Global in-flight reservation.
	inflightMu sync.Mutex
	inflight   int

	budget *OrderBudget
	// budgetAlerted dedups the exhaustion alert until the budget is reset.
	budgetAlerted atomic.Bool

	// alerter is optional; set before Start.
	alerter alerting.Alerter

	events   chan broker.StatusEvent
	submitCh chan submitJob
	workerWg sync.WaitGroup

	stopCh   chan struct{}
	loopDone chan struct{}

	tickCount int64
}

// New creates a new execution engine.
func New(cfg Config, gw broker.Gateway, cache quotes.Cache, res *resource.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:          cfg,
		logger:       logger,
		gateway:      gw,
		cache:        cache,
		resources:    res,
		recorder:     metrics.NewRecorder(),
		strategies:   make(map[string]*StrategyState),
		activeOrders: make(map[int64]*types.ActiveOrder),
		orderOwner:   make(map[int64]string),
		budget:       NewOrderBudget(),
		events:       make(chan broker.StatusEvent, cfg.EventQueueSize),
		submitCh:     make(chan submitJob, cfg.MaxInflightOrders),
	}
}

// SetAlerter attaches an operator notification channel. Call before Start;
// a nil alerter disables notifications.
func (e *Engine) SetAlerter(a alerting.Alerter) {
	e.alerter = a
}

// alert delivers an operator notification in the background. Alerts are
// advisory; delivery failures are logged and never affect trading.
func (e *Engine) alert(event alerting.AlertEvent, message string, fields ...any) {
	a := e.alerter
	if a == nil {
		return
	}
	go func() {
		if err := a.Alert(context.Background(), alerting.EventSeverity(event), message, fields...); err != nil {
			e.logger.Warn("alert delivery failed", "event", string(event), "err", err)
		}
	}()
}

// LoadStrategy registers a strategy, opening its subscriptions. Any
// subscription failure rolls back everything opened for this load; no partial
// strategy is ever left active.
func (e *Engine) LoadStrategy(id string, strat strategy.Strategy, cfg *strategy.Config) error {
	if cfg == nil {
		cfg = strategy.DefaultConfig()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.strategies[id]; ok {
		return fmt.Errorf("%w: %s", types.ErrStrategyExists, id)
	}

	subs := strat.GetSubscriptions(cfg)

	var opened []string
	for _, sub := range subs {
		handle := e.cache.Subscribe(sub.Contract, sub.CacheKey, sub.Fields)
		if handle == nil {
			for _, key := range opened {
				e.cache.Unsubscribe(key)
			}
			e.logger.Warn("strategy load rolled back",
				"strategy_id", id,
				"failed_key", sub.CacheKey,
				"rolled_back", len(opened),
			)
			return fmt.Errorf("%w: strategy %s, key %s", types.ErrInsufficientMarketDataCapacity, id, sub.CacheKey)
		}
		opened = append(opened, sub.CacheKey)
	}

	st := &StrategyState{
		ID:               id,
		Strategy:         strat,
		Config:           cfg,
		SubscriptionKeys: opened,
		Active:           true,
		LoadedAt:         time.Now(),
		Errors:           newErrorLog(e.cfg.ErrorLogSize),
		flip:             &flipWindow{},
	}

	e.strategies[id] = st
	e.order = append(e.order, id)

	e.callHook(st, "on_start", func() { strat.OnStart(cfg) })

	e.logger.Info("strategy loaded",
		"strategy_id", id,
		"type", cfg.Type,
		"subscriptions", len(opened),
	)

	return nil
}

// UnloadStrategy removes a strategy: stop hook, subscription release, and a
// purge of its order tracking. Open broker orders are left working unless
// CancelOnUnload is set.
func (e *Engine) UnloadStrategy(id string) error {
	e.mu.Lock()
	st, ok := e.strategies[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrStrategyNotFound, id)
	}

	delete(e.strategies, id)
	for i, sid := range e.order {
		if sid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	e.callHook(st, "on_stop", func() { st.Strategy.OnStop(st.Config) })

	for _, key := range st.SubscriptionKeys {
		e.cache.Unsubscribe(key)
	}

	purged := e.purgeStrategyOrders(id, e.cfg.CancelOnUnload)

	e.logger.Info("strategy unloaded",
		"strategy_id", id,
		"orders_purged", purged,
		"cancel_on_unload", e.cfg.CancelOnUnload,
	)

	return nil
}

// purgeStrategyOrders drops a strategy's order tracking, optionally
// requesting cancellation first.
func (e *Engine) purgeStrategyOrders(id string, cancel bool) int {
	var orderIDs []int64

	e.ordersMu.Lock()
	for orderID, owner := range e.orderOwner {
		if owner == id {
			orderIDs = append(orderIDs, orderID)
			delete(e.orderOwner, orderID)
			delete(e.activeOrders, orderID)
		}
	}
	e.ordersMu.Unlock()

	if cancel {
		for _, orderID := range orderIDs {
			if err := e.gateway.CancelOrderSync(orderID); err != nil {
				e.logger.Warn("cancel on unload failed",
					"order_id", orderID,
					"err", err,
				)
			}
		}
	}

	return len(orderIDs)
}

// UpdateStrategyConfig hot-merges partial config fields without a restart.
func (e *Engine) UpdateStrategyConfig(id string, partial map[string]any) error {
	e.mu.Lock()
	st, ok := e.strategies[id]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", types.ErrStrategyNotFound, id)
	}

	if err := st.Config.Merge(partial); err != nil {
		return err
	}

	e.logger.Info("strategy config updated", "strategy_id", id, "fields", len(partial))
	return nil
}

// PauseStrategy pauses evaluation for a strategy.
func (e *Engine) PauseStrategy(id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.strategies[id]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrStrategyNotFound, id)
	}

	e.pauseLocked(st, reason)
	return nil
}

func (e *Engine) pauseLocked(st *StrategyState, reason string) {
	if !st.Active {
		return
	}
	st.Active = false
	st.PausedAt = time.Now()
	st.PauseReason = reason

	e.logger.Warn("strategy paused", "strategy_id", st.ID, "reason", reason)
	e.alert(alerting.EventStrategyPaused,
		fmt.Sprintf("Strategy %s paused (%s)", st.ID, reason),
		"strategy_id", st.ID, "reason", reason)
}

// ResumeStrategy resumes a paused strategy.
func (e *Engine) ResumeStrategy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.strategies[id]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrStrategyNotFound, id)
	}

	if !st.Active {
		st.Active = true
		st.PauseReason = ""
		e.logger.Info("strategy resumed", "strategy_id", id)
		e.alert(alerting.EventStrategyResumed,
			fmt.Sprintf("Strategy %s resumed", id),
			"strategy_id", id)
	}
	return nil
}

// SetOrderBudget replaces the process-wide order budget: negative for
// unlimited, zero to halt, positive for a finite remaining count.
func (e *Engine) SetOrderBudget(value int64) {
	e.budget.Set(value)
	e.budgetAlerted.Store(false)
	e.recorder.RecordBudget(e.budget.Remaining())
	e.logger.Info("order budget set", "value", value)
}

// GetOrderBudget returns the current budget state.
func (e *Engine) GetOrderBudget() BudgetState {
	return e.budget.State()
}

// Start launches the evaluation loop, the submission worker, and registers
// the engine as the gateway's status/execution listener.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return types.ErrEngineRunning
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.loopDone = make(chan struct{})
	// Stop closes submitCh to drain the worker, so a restart needs a
	// fresh channel before the loop can queue submissions again.
	e.submitCh = make(chan submitJob, e.cfg.MaxInflightOrders)
	e.mu.Unlock()

	e.gateway.SetStatusListener(e.onStatusEvent)
	e.gateway.SetExecutionListener(e.onExecutionEvent)

	e.workerWg.Add(1)
	go e.submissionWorker()

	go e.loop()

	e.logger.Info("execution engine started",
		"tick_interval", e.cfg.TickInterval,
		"max_inflight", e.cfg.MaxInflightOrders,
	)

	return nil
}

// Stop shuts the engine down: stops the loop after its current tick, drains
// the submission worker so in-flight submissions finish, runs stop hooks,
// releases subscriptions, clears engine maps, drains leftover events, and
// deregisters the gateway listeners. Blocks until all of that completes.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info("stopping execution engine")

	// (1) Stop the loop; the current tick finishes.
	close(e.stopCh)
	<-e.loopDone

	// (2) Drain the submission worker; in-flight submissions complete
	// rather than being abandoned.
	close(e.submitCh)
	e.workerWg.Wait()

	// (3) Stop hooks.
	e.mu.Lock()
	states := make([]*StrategyState, 0, len(e.order))
	for _, id := range e.order {
		states = append(states, e.strategies[id])
	}
	e.strategies = make(map[string]*StrategyState)
	e.order = nil
	e.mu.Unlock()

	for _, st := range states {
		e.callHook(st, "on_stop", func() { st.Strategy.OnStop(st.Config) })
	}

	// (4) Release subscriptions, clear engine maps.
	for _, st := range states {
		for _, key := range st.SubscriptionKeys {
			e.cache.Unsubscribe(key)
		}
	}

	e.ordersMu.Lock()
	e.activeOrders = make(map[int64]*types.ActiveOrder)
	e.orderOwner = make(map[int64]string)
	e.ordersMu.Unlock()

	// (5) Drain leftover queued events.
	drained := 0
	for {
		select {
		case <-e.events:
			drained++
		default:
			e.logger.Info("execution engine stopped", "events_drained", drained)

			// (6) Deregister gateway listeners.
			e.gateway.SetStatusListener(nil)
			e.gateway.SetExecutionListener(nil)
			return nil
		}
	}
}

// IsRunning returns true if the engine is running.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// callHook runs a strategy hook, isolating panics from the caller.
func (e *Engine) callHook(st *StrategyState, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%s: panic: %v", name, r)
			st.Errors.append(msg)
			e.recorder.RecordStrategyError(st.ID)
			e.logger.Error("strategy hook panicked",
				"strategy_id", st.ID,
				"hook", name,
				"panic", r,
			)
		}
	}()
	fn()
}
