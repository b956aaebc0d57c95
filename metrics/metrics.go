package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoteflow_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quoteflow_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Policy enforcement
	PolicyFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoteflow_policy_findings_total",
			Help: "Content policy findings by category",
		},
		[]string{"category"},
	)

	BlockedActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoteflow_blocked_actions_total",
			Help: "Mutating actions refused before commit",
		},
		[]string{"location", "reason"}, // reason: "suspended" or "policy"
	)

	ViolationLogFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quoteflow_violation_log_failures_total",
			Help: "Violations that were blocked but could not be written to the ledger",
		},
	)

	Suspensions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quoteflow_suspensions_total",
			Help: "Accounts suspended by escalation",
		},
	)

	// Negotiation
	QuoteTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoteflow_quote_transitions_total",
			Help: "Committed quote request transitions",
		},
		[]string{"transition"},
	)

	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoteflow_discussion_messages_total",
			Help: "Discussion messages appended",
		},
		[]string{"author_role"},
	)

	// Outbox
	OutboxDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoteflow_outbox_dispatched_total",
			Help: "Outbox messages handled",
		},
		[]string{"topic", "result"}, // result: "processed", "retry", "dead"
	)

	StatusCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoteflow_status_cache_lookups_total",
			Help: "Compliance status cache lookups",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)
)
