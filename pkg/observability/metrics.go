// Package observability exposes Prometheus metrics and health endpoints
// for the orchestrator's admin port.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_turns_total",
			Help: "Total number of conversation turns processed",
		},
		[]string{"bot", "input_type", "status"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatkit_turn_duration_seconds",
			Help:    "Turn processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"bot"},
	)

	intentsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_intents_completed_total",
			Help: "Total number of intents driven to completion",
		},
		[]string{"bot", "intent"},
	)

	// NLU metrics
	nluQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_nlu_queries_total",
			Help: "Total number of NLU queries",
		},
		[]string{"provider", "status"},
	)

	nluQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatkit_nlu_query_duration_seconds",
			Help:    "NLU query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	nluCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_nlu_cache_lookups_total",
			Help: "Total number of NLU cache lookups by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// Fulfillment metrics
	fulfillmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_fulfillments_total",
			Help: "Total number of fulfillment webhook deliveries",
		},
		[]string{"bot", "intent", "status"},
	)

	fulfillmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatkit_fulfillment_duration_seconds",
			Help:    "Fulfillment webhook delivery duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"bot"},
	)

	// Conversation gauges
	activeConversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatkit_active_conversations",
			Help: "Number of conversations currently held in memory",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the metrics with the default registry. Safe to
// call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			turnsTotal,
			turnDuration,
			intentsCompletedTotal,
			nluQueriesTotal,
			nluQueryDuration,
			nluCacheLookupsTotal,
			fulfillmentsTotal,
			fulfillmentDuration,
			activeConversations,
		)
	})
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordTurn records one processed turn.
func RecordTurn(bot, inputType, status string, duration time.Duration) {
	turnsTotal.WithLabelValues(bot, inputType, status).Inc()
	turnDuration.WithLabelValues(bot).Observe(duration.Seconds())
}

// RecordIntentCompleted records an intent driven to completion.
func RecordIntentCompleted(bot, intent string) {
	intentsCompletedTotal.WithLabelValues(bot, intent).Inc()
}

// RecordNLUQuery records one NLU provider call.
func RecordNLUQuery(provider, status string, duration time.Duration) {
	nluQueriesTotal.WithLabelValues(provider, status).Inc()
	nluQueryDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordNLUCacheLookup records a cache hit or miss in front of a provider.
func RecordNLUCacheLookup(provider string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	nluCacheLookupsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordFulfillment records one webhook delivery attempt.
func RecordFulfillment(bot, intent, status string, duration time.Duration) {
	fulfillmentsTotal.WithLabelValues(bot, intent, status).Inc()
	fulfillmentDuration.WithLabelValues(bot).Observe(duration.Seconds())
}

// SetActiveConversations sets the in-memory conversation gauge.
func SetActiveConversations(count int) {
	activeConversations.Set(float64(count))
}
