// Package metrics holds the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tablekit"

var (
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Paginated queries served, by table and intention.",
	}, []string{"table", "intention"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Latency of the paired data and count reads.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"table"})

	CountDegradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "count_degraded_total",
		Help:      "Queries answered without a total because the count read failed.",
	}, []string{"table"})

	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_total",
		Help:      "Mutations by table, action and outcome (committed, rejected, failed).",
	}, []string{"table", "action", "outcome"})

	TagLinksChanged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tag_links_changed_total",
		Help:      "Join table links created or deleted by tag commits.",
	}, []string{"join_table", "change"})

	LocksSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "locks_swept_total",
		Help:      "Expired edit locks removed by the sweeper.",
	})
)
