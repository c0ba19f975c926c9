package engine

import (
	"testing"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/strategy"
)

func TestGetStatus(t *testing.T) {
	h := newTestHarness(t, nil)
	s := &scriptedStrategy{subs: []strategy.Subscription{stockSub("ACME")}}
	h.mustLoad(t, "s1", s)
	h.engine.SetOrderBudget(5)

	status := h.engine.GetStatus()

	if status.Running {
		t.Error("Running = true before Start")
	}
	if len(status.Strategies) != 1 {
		t.Fatalf("strategies = %d, want 1", len(status.Strategies))
	}
	snap := status.Strategies[0]
	if snap.ID != "s1" || !snap.Active {
		t.Errorf("snapshot = %+v, want active s1", snap)
	}
	if len(snap.Subscriptions) != 1 || snap.Subscriptions[0] != "ACME.stk" {
		t.Errorf("subscriptions = %v, want [ACME.stk]", snap.Subscriptions)
	}
	if status.Budget.Mode != "finite" || status.Budget.Remaining != 5 {
		t.Errorf("budget = %+v, want finite/5", status.Budget)
	}
	if status.ExecutionLinesHeld != 1 {
		t.Errorf("ExecutionLinesHeld = %d, want 1", status.ExecutionLinesHeld)
	}
}

func TestGetTelemetry(t *testing.T) {
	h := newTestHarness(t, nil)
	h.mustLoad(t, "s1", &scriptedStrategy{})
	h.mustLoad(t, "s2", &scriptedStrategy{})

	h.engine.evaluateStrategies()

	tele := h.engine.GetTelemetry()
	if len(tele.Strategies) != 2 {
		t.Fatalf("strategies = %d, want 2", len(tele.Strategies))
	}
	for _, s := range tele.Strategies {
		if s.EvalCount != 1 {
			t.Errorf("strategy %s EvalCount = %d, want 1", s.ID, s.EvalCount)
		}
	}
}

func TestGetStatus_PanickingStateIsolated(t *testing.T) {
	h := newTestHarness(t, nil)
	h.mustLoad(t, "s1", &panicStateStrategy{})

	status := h.engine.GetStatus()
	if len(status.Strategies) != 1 {
		t.Fatalf("strategies = %d, want 1", len(status.Strategies))
	}
	if status.Strategies[0].State != nil {
		t.Error("state from panicking strategy should be nil")
	}
}

type panicStateStrategy struct {
	scriptedStrategy
}

func (p *panicStateStrategy) GetStrategyState() map[string]any {
	panic("telemetry failure")
}
