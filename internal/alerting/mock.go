package alerting

import (
	"context"
	"strings"
	"sync"
)

// MockAlerter records alerts instead of delivering them. Engine and alerter
// tests inspect the recording; the engine fires alerts from background
// goroutines, so every accessor is safe to call concurrently.
type MockAlerter struct {
	mu     sync.Mutex
	alerts []MockAlert
}

// MockAlert is one recorded delivery.
type MockAlert struct {
	Severity Severity
	Message  string
	Fields   []any
}

func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (m *MockAlerter) Name() string {
	return "mock"
}

// Alert records the delivery and reports success.
func (m *MockAlerter) Alert(_ context.Context, severity Severity, message string, fields ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, MockAlert{Severity: severity, Message: message, Fields: fields})
	return nil
}

// Alerts returns a copy of everything recorded so far.
func (m *MockAlerter) Alerts() []MockAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockAlert(nil), m.alerts...)
}

// Clear discards the recording.
func (m *MockAlerter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = nil
}

// Count returns how many alerts have been recorded.
func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// HasAlertWithSeverity reports whether any recorded alert carries the
// given severity.
func (m *MockAlerter) HasAlertWithSeverity(severity Severity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.Severity == severity {
			return true
		}
	}
	return false
}

// HasAlertContaining reports whether any recorded message contains substr.
func (m *MockAlerter) HasAlertContaining(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if strings.Contains(a.Message, substr) {
			return true
		}
	}
	return false
}

// LastAlert returns the most recent recorded alert, or nil.
func (m *MockAlerter) LastAlert() *MockAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.alerts) == 0 {
		return nil
	}
	last := m.alerts[len(m.alerts)-1]
	return &last
}
