package engine

import (
	"time"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/strategy"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// StrategySnapshot is the operator view of one loaded strategy.
type StrategySnapshot struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	Active        bool             `json:"active"`
	PauseReason   string           `json:"pause_reason,omitempty"`
	LoadedAt      time.Time        `json:"loaded_at"`
	Subscriptions []string         `json:"subscriptions"`
	EvalCount     int64            `json:"eval_count"`
	SubmitCount   int64            `json:"submit_count"`
	PlacedCount   int64            `json:"placed_count"`
	InflightCount int64            `json:"inflight_count"`
	RecentErrors  []ErrorEntry     `json:"recent_errors"`
	Config        *strategy.Config `json:"config"`
	State         map[string]any   `json:"state,omitempty"`
}

// Status is the full operator status snapshot.
type Status struct {
	Running            bool                `json:"running"`
	Timestamp          time.Time           `json:"timestamp"`
	Budget             BudgetState         `json:"budget"`
	Inflight           int                 `json:"inflight"`
	Strategies         []StrategySnapshot  `json:"strategies"`
	ActiveOrders       []types.ActiveOrder `json:"active_orders"`
	ExecutionLinesHeld int                 `json:"execution_lines_held"`
	AvailableForScan   int                 `json:"available_for_scan"`
}

// TelemetryStrategy is the light per-strategy telemetry entry.
type TelemetryStrategy struct {
	ID          string `json:"id"`
	Active      bool   `json:"active"`
	EvalCount   int64  `json:"eval_count"`
	PlacedCount int64  `json:"placed_count"`
	ErrorCount  int    `json:"error_count"`
}

// Telemetry is the lighter periodic push snapshot.
type Telemetry struct {
	Running          bool                `json:"running"`
	Timestamp        time.Time           `json:"timestamp"`
	Budget           BudgetState         `json:"budget"`
	Inflight         int                 `json:"inflight"`
	ActiveOrderCount int                 `json:"active_order_count"`
	Strategies       []TelemetryStrategy `json:"strategies"`
}

// stateView captures the registry-guarded fields of one strategy while the
// registry lock is held; the counters are atomics and read afterwards.
type stateView struct {
	st          *StrategyState
	active      bool
	pauseReason string
}

func (e *Engine) stateViews() (bool, []stateView) {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]stateView, 0, len(e.order))
	for _, id := range e.order {
		st := e.strategies[id]
		views = append(views, stateView{st: st, active: st.Active, pauseReason: st.PauseReason})
	}
	return e.running, views
}

// GetStatus returns the full operator status snapshot.
func (e *Engine) GetStatus() Status {
	running, views := e.stateViews()

	snapshots := make([]StrategySnapshot, 0, len(views))
	for _, v := range views {
		st := v.st
		snapshots = append(snapshots, StrategySnapshot{
			ID:            st.ID,
			Type:          st.Config.Type,
			Active:        v.active,
			PauseReason:   v.pauseReason,
			LoadedAt:      st.LoadedAt,
			Subscriptions: append([]string(nil), st.SubscriptionKeys...),
			EvalCount:     st.EvalCount.Load(),
			SubmitCount:   st.SubmitCount.Load(),
			PlacedCount:   st.PlacedCount.Load(),
			InflightCount: st.inflight(),
			RecentErrors:  st.Errors.snapshot(),
			Config:        st.Config.Clone(),
			State:         safeStrategyState(st.Strategy),
		})
	}

	status := Status{
		Running:      running,
		Timestamp:    time.Now(),
		Budget:       e.budget.State(),
		Inflight:     e.InflightCount(),
		Strategies:   snapshots,
		ActiveOrders: e.ActiveOrders(),
	}

	if e.resources != nil {
		status.ExecutionLinesHeld = e.resources.ExecutionLinesHeld()
		status.AvailableForScan = e.resources.AvailableForScan()
	}

	return status
}

// GetTelemetry returns the light periodic snapshot.
func (e *Engine) GetTelemetry() Telemetry {
	running, views := e.stateViews()

	strategies := make([]TelemetryStrategy, 0, len(views))
	for _, v := range views {
		strategies = append(strategies, TelemetryStrategy{
			ID:          v.st.ID,
			Active:      v.active,
			EvalCount:   v.st.EvalCount.Load(),
			PlacedCount: v.st.PlacedCount.Load(),
			ErrorCount:  v.st.Errors.len(),
		})
	}

	e.ordersMu.Lock()
	activeOrders := len(e.activeOrders)
	e.ordersMu.Unlock()

	return Telemetry{
		Running:          running,
		Timestamp:        time.Now(),
		Budget:           e.budget.State(),
		Inflight:         e.InflightCount(),
		ActiveOrderCount: activeOrders,
		Strategies:       strategies,
	}
}

// safeStrategyState isolates a misbehaving GetStrategyState from telemetry.
func safeStrategyState(s strategy.Strategy) (state map[string]any) {
	defer func() {
		if recover() != nil {
			state = nil
		}
	}()
	return s.GetStrategyState()
}
