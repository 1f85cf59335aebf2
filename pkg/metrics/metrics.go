// Package metrics declares the registry's Prometheus instruments, exposed
// at /metrics by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts handled HTTP requests by path and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"path", "status"},
	)

	// SearchResults observes how many agents each search returned.
	SearchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_search_results",
			Help:    "Number of ranked agents returned per search",
			Buckets: []float64{0, 1, 2, 5, 10},
		},
	)

	// SearchDurationSeconds observes end-to-end search latency.
	SearchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registry_search_duration_seconds",
			Help:    "End-to-end search pipeline latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FeedbackTotal counts accepted feedback events by agent and outcome.
	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_feedback_total",
			Help: "Total number of accepted feedback events",
		},
		[]string{"agent_id", "outcome"},
	)

	// FraudDetectedTotal counts fraud-detection rows by type and severity.
	FraudDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_fraud_detected_total",
			Help: "Total number of fraud detections logged",
		},
		[]string{"fraud_type", "severity"},
	)

	// QuarantineTransitionsTotal counts status transitions applied by the
	// auto-review sweep.
	QuarantineTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_quarantine_transitions_total",
			Help: "Total number of agent status transitions",
		},
		[]string{"transition"},
	)

	// AgentsByStatus tracks the current agent population per status, set by
	// each auto-review sweep.
	AgentsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_agents_by_status",
			Help: "Number of registered agents per lifecycle status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(SearchResults)
	prometheus.MustRegister(SearchDurationSeconds)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(FraudDetectedTotal)
	prometheus.MustRegister(QuarantineTransitionsTotal)
	prometheus.MustRegister(AgentsByStatus)
}
