// Package metrics provides Prometheus metrics for the lineage service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GraphBuildsTotal counts unified graph constructions.
	GraphBuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "graph_builds_total",
			Help:      "Total number of unified graph constructions",
		},
	)

	// GraphBuildDuration tracks graph construction latency.
	GraphBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "graph_build_duration_seconds",
			Help:      "Unified graph construction duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// GraphNodesTotal counts nodes produced by change status.
	GraphNodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "graph_nodes_total",
			Help:      "Total number of graph nodes by change status",
		},
		[]string{"change_status"}, // "added", "removed", "modified", "unchanged"
	)

	// BatchesTotal counts batch actions by mode and terminal status.
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "batches_total",
			Help:      "Total number of batch actions by mode and terminal status",
		},
		[]string{"mode", "status"}, // status: "completed", "canceled"
	)

	// BatchesActive tracks currently running batch actions.
	BatchesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "batches_active",
			Help:      "Number of currently running batch actions",
		},
	)

	// NodeActionsTotal counts per-node outcomes within batch actions.
	NodeActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "node_actions_total",
			Help:      "Total number of node action outcomes",
		},
		[]string{"status"}, // "success", "failure", "skipped"
	)

	// RemotePollsTotal counts polls issued against the job API.
	RemotePollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "remote_polls_total",
			Help:      "Total number of remote run polls",
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SSEActiveConnections tracks open progress streams.
	SSEActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "sse_active_connections",
			Help:      "Number of open SSE progress streams",
		},
	)

	// SSEConnectionDuration tracks progress stream lifetime.
	SSEConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "sse_connection_duration_seconds",
			Help:      "SSE connection duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// BatchStoreOperations counts batch store operations.
	BatchStoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftlab",
			Subsystem: "lineage",
			Name:      "batchstore_operations_total",
			Help:      "Total number of batch store operations",
		},
		[]string{"operation", "result"}, // operation: create, update, get; result: success, error
	)
)
