package metrics

import (
	"time"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSubmission records an action handed to the submission worker.
func (r *Recorder) RecordSubmission(strategy string) {
	OrdersSubmitted.WithLabelValues(strategy).Inc()
}

// RecordPlaced records a broker-acknowledged order.
func (r *Recorder) RecordPlaced(strategy, status string) {
	OrdersPlaced.WithLabelValues(strategy, status).Inc()
}

// RecordGateRejection records a safety-gate rejection.
func (r *Recorder) RecordGateRejection(gate string) {
	GateRejections.WithLabelValues(gate).Inc()
}

// RecordInflight records the current in-flight order count.
func (r *Recorder) RecordInflight(n int) {
	OrdersInflight.Set(float64(n))
}

// RecordBudget records the remaining order budget.
// Pass -1 for unlimited.
func (r *Recorder) RecordBudget(remaining int64) {
	OrderBudgetRemaining.Set(float64(remaining))
}

// RecordStrategyError records a strategy evaluation or callback error.
func (r *Recorder) RecordStrategyError(strategy string) {
	StrategyErrors.WithLabelValues(strategy).Inc()
}

// RecordActiveStrategies records the active strategy count.
func (r *Recorder) RecordActiveStrategies(n int) {
	StrategiesActive.Set(float64(n))
}

// RecordEventDropped records a dropped order event.
func (r *Recorder) RecordEventDropped() {
	EventsDropped.Inc()
}

// RecordBrokerStatus records broker connection status.
func (r *Recorder) RecordBrokerStatus(connected bool) {
	if connected {
		BrokerConnected.Set(1)
	} else {
		BrokerConnected.Set(0)
	}
}

// RecordMarketDataLines records line usage.
func (r *Recorder) RecordMarketDataLines(held, available int) {
	MarketDataLines.WithLabelValues("held").Set(float64(held))
	MarketDataLines.WithLabelValues("available").Set(float64(available))
}

// RecordHeartbeat records a completed evaluation tick.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveTick observes the elapsed time as tick duration.
func (t *Timer) ObserveTick() {
	TickDuration.Observe(t.Elapsed().Seconds())
}

// ObserveOrder observes the elapsed time as order placement latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(t.Elapsed().Seconds())
}
