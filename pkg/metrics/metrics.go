package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_price_lookups_total",
		Help: "The total number of price lookups by currency and outcome",
	}, []string{"currency", "outcome"})

	PriceLookupLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_price_lookup_seconds",
		Help:    "Time taken by a price feed request",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // Start at 50ms with 10 buckets doubling in size
	})

	QuoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_quote_requests_total",
		Help: "The total number of contract call quote requests by outcome",
	}, []string{"outcome"})

	QuotesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_quote_requests_suppressed_total",
		Help: "Quote requests skipped because the inputs did not change",
	})

	RoutesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_routes_started_total",
		Help: "The total number of routes handed to the executor",
	}, []string{"chain_id"})

	RoutesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_routes_finished_total",
		Help: "The total number of routes that stopped executing by outcome",
	}, []string{"chain_id", "outcome"})

	StepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_step_transitions_total",
		Help: "Execution status changes observed on route steps",
	}, []string{"status"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_active_sessions",
		Help: "The number of open payment sessions",
	})

	ProcessingSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_processing_sessions",
		Help: "The number of sessions with a route in progress",
	})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_circuit_breaker_trips_total",
		Help: "Number of times a circuit breaker opened",
	}, []string{"breaker"})
)
