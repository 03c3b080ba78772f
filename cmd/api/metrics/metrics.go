package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamAttempts counts outbound HTTP attempts by client and outcome.
	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "upstream_attempts_total",
			Help:      "Outbound HTTP attempts by client and outcome",
		},
		[]string{"client", "outcome"},
	)

	UpstreamAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalog",
			Name:      "upstream_attempt_duration_seconds",
			Help:      "Duration of single outbound HTTP attempts",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"client"},
	)

	ScopeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "scope_outcomes_total",
			Help:      "Unit of work scopes by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "http_requests_total",
			Help:      "Inbound HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)
