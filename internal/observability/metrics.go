package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tx_pipeline",
			Name:      "cache_fetches_total",
			Help:      "Fee and limits cache lookups by outcome (hit, miss, stale, error)",
		},
		[]string{"cache", "outcome"},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tx_pipeline",
			Name:      "upstream_requests_total",
			Help:      "Requests sent to quote and limits services",
		},
		[]string{"cache"},
	)

	Executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tx_pipeline",
			Name:      "executions_total",
			Help:      "Settlement submissions by engine and result",
		},
		[]string{"engine", "result"},
	)

	FlowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tx_pipeline",
			Name:      "flow_transitions_total",
			Help:      "State machine transitions by target step",
		},
		[]string{"step"},
	)

	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tx_pipeline",
			Name:      "withdrawal_settlements_total",
			Help:      "Custodial withdrawals reaching a terminal status, by outcome",
		},
		[]string{"outcome"},
	)

	ExecuteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tx_pipeline",
			Name:      "execute_duration_seconds",
			Help:      "Latency of engine Execute calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"engine"},
	)
)
