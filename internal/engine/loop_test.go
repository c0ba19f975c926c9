package engine

import (
	"testing"
	"time"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

func TestGateBudget_FiniteConsumesPerSubmission(t *testing.T) {
	h := newTestHarness(t, nil)
	st := h.mustLoad(t, "s1", &scriptedStrategy{})

	h.engine.SetOrderBudget(3)

	for i := 0; i < 4; i++ {
		h.engine.offerAction(st, testAction("a"))
	}

	if n := len(h.engine.submitCh); n != 3 {
		t.Errorf("queued submissions = %d, want 3", n)
	}
	if remaining := h.engine.GetOrderBudget().Remaining; remaining != 0 {
		t.Errorf("budget remaining = %d, want 0", remaining)
	}
	if st.Errors.len() != 1 {
		t.Errorf("gate rejections logged = %d, want 1", st.Errors.len())
	}
}

func TestGateBudget_Halted(t *testing.T) {
	h := newTestHarness(t, nil)
	st := h.mustLoad(t, "s1", &scriptedStrategy{})

	h.engine.SetOrderBudget(0)
	h.engine.offerAction(st, testAction("a"))

	if n := len(h.engine.submitCh); n != 0 {
		t.Errorf("queued submissions = %d, want 0 when halted", n)
	}
	if mode := h.engine.GetOrderBudget().Mode; mode != "halted" {
		t.Errorf("budget mode = %s, want halted", mode)
	}
}

func TestGateFlipFlop_PausesAndRefunds(t *testing.T) {
	h := newTestHarness(t, func(c *Config) {
		c.FlipFlopWindow = 10 * time.Second
		c.FlipFlopMaxOrders = 2
	})
	st := h.mustLoad(t, "s1", &scriptedStrategy{})
	h.engine.SetOrderBudget(10)

	// Two recent submissions fill the window.
	now := time.Now()
	st.flip.record(now)
	st.flip.record(now)

	h.engine.offerAction(st, testAction("a"))

	if st.Active {
		t.Error("strategy still active after flip-flop trip")
	}
	if st.PauseReason != PauseReasonFlipFlop {
		t.Errorf("pause reason = %q, want %q", st.PauseReason, PauseReasonFlipFlop)
	}
	if remaining := h.engine.GetOrderBudget().Remaining; remaining != 10 {
		t.Errorf("budget remaining = %d, want 10 (refunded)", remaining)
	}
	if n := len(h.engine.submitCh); n != 0 {
		t.Errorf("queued submissions = %d, want 0", n)
	}
}

func TestGateFlipFlop_OldEntriesExpire(t *testing.T) {
	h := newTestHarness(t, func(c *Config) {
		c.FlipFlopWindow = 50 * time.Millisecond
		c.FlipFlopMaxOrders = 2
	})
	st := h.mustLoad(t, "s1", &scriptedStrategy{})

	stale := time.Now().Add(-time.Second)
	st.flip.record(stale)
	st.flip.record(stale)

	h.engine.offerAction(st, testAction("a"))

	if !st.Active {
		t.Error("strategy paused on stale flip window entries")
	}
	if n := len(h.engine.submitCh); n != 1 {
		t.Errorf("queued submissions = %d, want 1", n)
	}
}

func TestGateFlipFlop_CooldownAutoResume(t *testing.T) {
	h := newTestHarness(t, func(c *Config) {
		c.FlipFlopCooldown = 10 * time.Millisecond
	})
	s := &scriptedStrategy{}
	st := h.mustLoad(t, "s1", s)

	h.engine.mu.Lock()
	h.engine.pauseLocked(st, PauseReasonFlipFlop)
	h.engine.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	h.engine.evaluateStrategies()

	if !st.Active {
		t.Error("strategy not auto-resumed after cooldown")
	}
	if n := s.evalCount(); n != 1 {
		t.Errorf("evaluations after auto-resume = %d, want 1", n)
	}
}

func TestGateFlipFlop_NoCooldownStaysPaused(t *testing.T) {
	h := newTestHarness(t, nil) // FlipFlopCooldown zero
	s := &scriptedStrategy{}
	st := h.mustLoad(t, "s1", s)

	h.engine.mu.Lock()
	h.engine.pauseLocked(st, PauseReasonFlipFlop)
	h.engine.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	h.engine.evaluateStrategies()

	if st.Active {
		t.Error("strategy resumed without cooldown configured")
	}
	if n := s.evalCount(); n != 0 {
		t.Errorf("evaluations while paused = %d, want 0", n)
	}
}

func TestGateInflightCap(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.MaxInflightOrders = 2 })
	st := h.mustLoad(t, "s1", &scriptedStrategy{})
	h.engine.SetOrderBudget(10)

	for i := 0; i < 3; i++ {
		h.engine.offerAction(st, testAction("a"))
	}

	if n := h.engine.InflightCount(); n != 2 {
		t.Errorf("inflight = %d, want 2", n)
	}
	if n := len(h.engine.submitCh); n != 2 {
		t.Errorf("queued submissions = %d, want 2", n)
	}
	// The cap rejection refunds the budget unit.
	if remaining := h.engine.GetOrderBudget().Remaining; remaining != 8 {
		t.Errorf("budget remaining = %d, want 8", remaining)
	}
}

func TestGateConnectionDown(t *testing.T) {
	h := newTestHarness(t, nil)
	st := h.mustLoad(t, "s1", &scriptedStrategy{})
	h.engine.SetOrderBudget(5)
	h.gateway.setConnected(false)

	h.engine.offerAction(st, testAction("a"))

	if n := len(h.engine.submitCh); n != 0 {
		t.Errorf("queued submissions = %d, want 0", n)
	}
	// Both the budget unit and the in-flight slot are refunded.
	if remaining := h.engine.GetOrderBudget().Remaining; remaining != 5 {
		t.Errorf("budget remaining = %d, want 5", remaining)
	}
	if n := h.engine.InflightCount(); n != 0 {
		t.Errorf("inflight = %d, want 0", n)
	}
}

func TestGatesPassed_RecordsSubmission(t *testing.T) {
	h := newTestHarness(t, nil)
	st := h.mustLoad(t, "s1", &scriptedStrategy{})

	h.engine.offerAction(st, testAction("a"))

	if st.SubmitCount.Load() != 1 {
		t.Errorf("SubmitCount = %d, want 1", st.SubmitCount.Load())
	}
	if st.inflight() != 1 {
		t.Errorf("strategy inflight = %d, want 1", st.inflight())
	}
	if got := st.flip.countSince(time.Now().Add(-time.Minute)); got != 1 {
		t.Errorf("flip window entries = %d, want 1", got)
	}
}

func TestSweepStaleOrders(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.StaleOrderThreshold = time.Millisecond })
	h.mustLoad(t, "s1", &scriptedStrategy{})

	ao := &types.ActiveOrder{
		OrderID:    5,
		StrategyID: "s1",
		Status:     types.OrderStatusAcknowledged,
		UpdatedAt:  time.Now().Add(-time.Second),
	}
	h.engine.trackOrder(ao)

	// Diagnostic only: the order must survive the sweep.
	h.engine.sweepStaleOrders()

	if _, ok := h.engine.OwnerOf(5); !ok {
		t.Error("stale sweep removed the order")
	}
}
