// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admin_sync",
			Name:      "client_ops_total",
			Help:      "CRUD operations issued by sync clients, by result tag.",
		},
		[]string{"table", "op", "result"},
	)

	SyncOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "admin_sync",
			Name:      "client_op_seconds",
			Help:      "Latency of sync client CRUD operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"table", "op"},
	)

	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admin_sync",
			Name:      "events_dropped_total",
			Help:      "Change events discarded before reaching a collection.",
		},
		[]string{"table", "reason"},
	)

	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admin_sync",
			Name:      "reconcile_merges_total",
			Help:      "Reconciler merge outcomes per collection.",
		},
		[]string{"collection", "outcome"},
	)

	RealtimeSockets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "admin_sync",
			Name:      "realtime_sockets",
			Help:      "Open realtime websocket connections.",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admin_sync",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		},
		[]string{"route", "code"},
	)
)
