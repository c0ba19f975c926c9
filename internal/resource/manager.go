// Package resource tracks market data line usage across the agent.
package resource

import (
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/quotes"
)

// Manager exposes read-only line accounting for telemetry. One manager owns
// the accounting per running agent; inject it rather than reaching for a
// global so tests can construct isolated instances.
type Manager struct {
	cache quotes.Cache
}

// NewManager creates a manager backed by the quote cache's line accounting.
func NewManager(cache quotes.Cache) *Manager {
	return &Manager{cache: cache}
}

// ExecutionLinesHeld returns the number of lines held by execution strategies.
func (m *Manager) ExecutionLinesHeld() int {
	return m.cache.ActiveSubscriptions()
}

// AvailableForScan returns the lines left over for chain scanning.
func (m *Manager) AvailableForScan() int {
	avail := m.cache.Capacity() - m.cache.ActiveSubscriptions()
	if avail < 0 {
		return 0
	}
	return avail
}
