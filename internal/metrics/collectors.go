// Package metrics provides Prometheus metrics for the execution agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors registered with the default registry.
var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent",
		Subsystem: "orders",
		Name:      "submitted_total",
		Help:      "Orders handed to the submission worker, by strategy.",
	}, []string{"strategy"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent",
		Subsystem: "orders",
		Name:      "placed_total",
		Help:      "Orders acknowledged by the broker, by strategy and status.",
	}, []string{"strategy", "status"})

	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent",
		Subsystem: "orders",
		Name:      "gate_rejections_total",
		Help:      "Actions rejected by the safety-gate pipeline, by gate.",
	}, []string{"gate"})

	OrdersInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent",
		Subsystem: "orders",
		Name:      "inflight",
		Help:      "Orders submitted but not yet acknowledged.",
	})

	OrderBudgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent",
		Subsystem: "orders",
		Name:      "budget_remaining",
		Help:      "Remaining order budget (-1 unlimited, 0 halted).",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agent",
		Subsystem: "engine",
		Name:      "tick_duration_seconds",
		Help:      "Evaluation tick duration.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agent",
		Subsystem: "orders",
		Name:      "placement_duration_seconds",
		Help:      "Synchronous order placement latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	StrategyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent",
		Subsystem: "strategy",
		Name:      "errors_total",
		Help:      "Strategy evaluation and callback errors, by strategy.",
	}, []string{"strategy"})

	StrategiesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent",
		Subsystem: "strategy",
		Name:      "active",
		Help:      "Number of active (non-paused) strategies.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agent",
		Subsystem: "engine",
		Name:      "events_dropped_total",
		Help:      "Order events dropped because the queue was full.",
	})

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent",
		Subsystem: "broker",
		Name:      "connected",
		Help:      "Broker connection status (1 connected).",
	})

	MarketDataLines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agent",
		Subsystem: "market_data",
		Name:      "lines",
		Help:      "Market data line usage, by kind (held, available).",
	}, []string{"kind"})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent",
		Subsystem: "engine",
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last completed evaluation tick.",
	})
)
