// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Chain metrics
	RPCCallLatency  *prometheus.HistogramVec
	ChainCallErrors *prometheus.CounterVec
	HeadsReceived   prometheus.Counter
	ConfirmLatency  *prometheus.HistogramVec

	// Marketplace metrics
	ListingsLoaded         prometheus.Gauge
	ListingRefreshDuration prometheus.Histogram
	ListingRefreshErrors   prometheus.Counter
	TokenBalance           prometheus.Gauge

	// Orchestrator metrics
	IntentsTotal      *prometheus.CounterVec
	IntentDuration    *prometheus.HistogramVec
	OrchestratorState *prometheus.GaugeVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRefresh prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "celo_carmarket"
	}

	return &Metrics{
		// Chain metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ChainCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "call_errors_total",
			Help:      "Total number of failed contract calls by operation",
		}, []string{"op"}),
		HeadsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "heads_received_total",
			Help:      "Total number of new heads received over websocket",
		}),
		ConfirmLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "confirm_latency_seconds",
			Help:      "Time from submission to confirmation in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"policy"}),

		// Marketplace metrics
		ListingsLoaded: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "listings_loaded",
			Help:      "Number of listings in the current snapshot",
		}),
		ListingRefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "listing_refresh_duration_seconds",
			Help:      "Listing cache refresh duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ListingRefreshErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "listing_refresh_errors_total",
			Help:      "Total number of failed listing refreshes",
		}),
		TokenBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "token_balance",
			Help:      "Last known cUSD balance of the connected identity",
		}),

		// Orchestrator metrics
		IntentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "intents_total",
			Help:      "Total number of user intents by kind and status",
		}, []string{"intent", "status"}),
		IntentDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "intent_duration_seconds",
			Help:      "Intent execution duration in seconds, including refresh",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"intent"}),
		OrchestratorState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "state",
			Help:      "1 for the current orchestrator state, 0 otherwise",
		}, []string{"state"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful listing refresh",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordChainCallError counts a failed gateway operation.
func RecordChainCallError(op string) {
	DefaultMetrics.ChainCallErrors.WithLabelValues(op).Inc()
}

// RecordHead counts a received chain head.
func RecordHead() {
	DefaultMetrics.HeadsReceived.Inc()
}

// RecordConfirmation records how long a transaction took to satisfy policy.
func RecordConfirmation(policy string, seconds float64) {
	DefaultMetrics.ConfirmLatency.WithLabelValues(policy).Observe(seconds)
}

// RecordListingRefresh records a listing refresh outcome.
func RecordListingRefresh(count int, seconds float64, err error, unixNow int64) {
	DefaultMetrics.ListingRefreshDuration.Observe(seconds)
	if err != nil {
		DefaultMetrics.ListingRefreshErrors.Inc()
		return
	}
	DefaultMetrics.ListingsLoaded.Set(float64(count))
	DefaultMetrics.LastSuccessfulRefresh.Set(float64(unixNow))
}

// UpdateTokenBalance sets the token balance gauge.
func UpdateTokenBalance(units float64) {
	DefaultMetrics.TokenBalance.Set(units)
}

// RecordIntent records a finished intent.
func RecordIntent(intent, status string, durationSeconds float64) {
	DefaultMetrics.IntentsTotal.WithLabelValues(intent, status).Inc()
	DefaultMetrics.IntentDuration.WithLabelValues(intent).Observe(durationSeconds)
}

// SetState marks state as current and resets prev.
func SetState(prev, state string) {
	if prev != "" {
		DefaultMetrics.OrchestratorState.WithLabelValues(prev).Set(0)
	}
	DefaultMetrics.OrchestratorState.WithLabelValues(state).Set(1)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
