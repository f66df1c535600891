package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure|mfa_required).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sataplan_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sataplan_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// AccessTokensIssued counts one-time goal access tokens created.
	AccessTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sataplan_access_tokens_issued_total",
			Help: "Total number of one-time goal access tokens issued",
		},
	)

	// AccessTokenVerifications counts verification outcomes
	// (success|replayed|expired|not_found|revoked).
	AccessTokenVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sataplan_access_token_verifications_total",
			Help: "Total number of goal access token verification attempts",
		},
		[]string{"result"},
	)

	// SearchQueries counts live search requests by transport (ws|http).
	SearchQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sataplan_search_queries_total",
			Help: "Total number of goal search queries",
		},
		[]string{"transport"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sataplan_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
