package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// MultiAlerter fans one alert out to every configured channel, typically
// console plus Telegram. Channels are independent: a failing one is logged
// and does not stop delivery to the others.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	logger   *slog.Logger
}

func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{alerters: alerters, logger: logger}
}

func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter registers another delivery channel.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, alerter)
}

// Alert delivers to all channels concurrently and waits for every one.
// The returned error joins the per-channel failures.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	alerters := append([]Alerter(nil), m.alerters...)
	m.mu.RUnlock()

	if len(alerters) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(alerters))

	for i, alerter := range alerters {
		wg.Add(1)
		go func(i int, a Alerter) {
			defer wg.Done()
			if err := a.Alert(ctx, severity, message, fields...); err != nil {
				m.logger.Error("alert delivery failed",
					"alerter", a.Name(),
					"severity", severity.String(),
					"error", err,
				)
				errs[i] = err
			}
		}(i, alerter)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// AlertEvent delivers an alert for a known event, using the event's
// default severity.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return m.Alert(ctx, EventSeverity(event), message, fields...)
}
