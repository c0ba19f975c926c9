// Package alerting provides operator notification channels for the execution
// agent. Alerts are advisory: failures to deliver never affect trading.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key-value fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventStrategyPaused is sent when a safety gate pauses a strategy.
	EventStrategyPaused AlertEvent = "strategy_paused"
	// EventStrategyResumed is sent when a paused strategy resumes.
	EventStrategyResumed AlertEvent = "strategy_resumed"
	// EventBudgetExhausted is sent when the order budget reaches zero.
	EventBudgetExhausted AlertEvent = "budget_exhausted"
	// EventOrderFilled is sent when an order is filled.
	EventOrderFilled AlertEvent = "order_filled"
	// EventOrderDead is sent when an order reaches a terminal non-fill state.
	EventOrderDead AlertEvent = "order_dead"
	// EventConnectionLost is sent when the broker connection is lost.
	EventConnectionLost AlertEvent = "connection_lost"
	// EventConnectionRestored is sent when the broker connection is restored.
	EventConnectionRestored AlertEvent = "connection_restored"
	// EventAgentStarted is sent when the agent starts.
	EventAgentStarted AlertEvent = "agent_started"
	// EventAgentStopped is sent when the agent stops.
	EventAgentStopped AlertEvent = "agent_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventBudgetExhausted:
		return SeverityHigh
	case EventStrategyPaused, EventOrderDead, EventConnectionLost:
		return SeverityWarning
	case EventStrategyResumed, EventOrderFilled, EventConnectionRestored,
		EventAgentStarted, EventAgentStopped:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
