package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketplace_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ImageBytesWritten counts bytes written into the image tree.
	ImageBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_image_bytes_written_total",
		Help: "Total number of image bytes written to storage",
	})

	// ImageOperations counts image store operations by kind and outcome.
	ImageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_image_operations_total",
		Help: "Total image store operations by operation and result",
	}, []string{"op", "result"})

	// ReconcileFixes counts inconsistencies repaired or reported by the sweep.
	ReconcileFixes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_reconcile_fixes_total",
		Help: "Total inconsistencies found by reconciliation, by kind",
	}, []string{"kind"})

	// OrphanedDirs counts image directories left behind after their row was removed.
	OrphanedDirs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_orphaned_dirs_total",
		Help: "Total image directories orphaned by a failed removal",
	})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_websocket_connections",
		Help: "Number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// ObserveImageOp records the outcome of one image store operation.
func ObserveImageOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ImageOperations.WithLabelValues(op, result).Inc()
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
