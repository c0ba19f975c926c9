package engine

import (
	"sync"
)

// BudgetMode classifies the process-wide order budget.
type BudgetMode int

const (
	BudgetUnlimited BudgetMode = iota
	BudgetHalted
	BudgetFinite
)

func (m BudgetMode) String() string {
	switch m {
	case BudgetUnlimited:
		return "unlimited"
	case BudgetHalted:
		return "halted"
	case BudgetFinite:
		return "finite"
	default:
		return "unknown"
	}
}

// BudgetState is the telemetry view of the order budget.
type BudgetState struct {
	Mode      string `json:"mode"`
	Remaining int64  `json:"remaining"`
}

// OrderBudget is the process-wide submission allowance: unlimited, halted
// (zero), or a finite remaining count. One unit is consumed atomically per
// submission attempt; a later-gate rejection refunds it exactly once.
type OrderBudget struct {
	mu        sync.Mutex
	mode      BudgetMode
	remaining int64
}

// NewOrderBudget creates an unlimited budget.
func NewOrderBudget() *OrderBudget {
	return &OrderBudget{mode: BudgetUnlimited}
}

// Set replaces the budget: negative for unlimited, zero to halt, positive
// for a finite remaining count.
func (b *OrderBudget) Set(value int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case value < 0:
		b.mode = BudgetUnlimited
		b.remaining = 0
	case value == 0:
		b.mode = BudgetHalted
		b.remaining = 0
	default:
		b.mode = BudgetFinite
		b.remaining = value
	}
}

// Consume takes one unit. Unlimited always succeeds, halted always fails,
// finite decrements iff a unit remains.
func (b *OrderBudget) Consume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.mode {
	case BudgetUnlimited:
		return true
	case BudgetHalted:
		return false
	default:
		if b.remaining <= 0 {
			return false
		}
		b.remaining--
		return true
	}
}

// Refund returns one previously consumed unit.
func (b *OrderBudget) Refund() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == BudgetFinite {
		b.remaining++
	}
}

// State returns the telemetry view.
func (b *OrderBudget) State() BudgetState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BudgetState{
		Mode:      b.mode.String(),
		Remaining: b.remaining,
	}
}

// Remaining returns the gauge value: -1 unlimited, otherwise the count.
func (b *OrderBudget) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == BudgetUnlimited {
		return -1
	}
	return b.remaining
}
