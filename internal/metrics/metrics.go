// Package metrics defines the Prometheus collectors for the pool,
// mirroring the teacher repo's internal/metrics package: package-level
// vars registered via promauto so every consumer shares one registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks active (IN_USE) entries per pool.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_connections_active",
		Help: "Number of active connections per pool",
	}, []string{"pool"})

	// ConnectionsIdle tracks idle (NOT_IN_USE) entries per pool.
	ConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_connections_idle",
		Help: "Number of idle connections per pool",
	}, []string{"pool"})

	// ConnectionsMax tracks the configured maximumPoolSize per pool.
	ConnectionsMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_connections_max",
		Help: "Configured maximum connections per pool",
	}, []string{"pool"})

	// ConnectionsTotal counts lifecycle events (opened, released) per pool.
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connpool_connections_total",
		Help: "Total connection lifecycle events",
	}, []string{"pool", "status"})

	// QueueLength tracks threadsAwaitingConnection per pool.
	QueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_queue_length",
		Help: "Number of goroutines currently blocked in Acquire",
	}, []string{"pool"})

	// QueueWaitDuration tracks time spent waiting for a connection.
	QueueWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connpool_queue_wait_seconds",
		Help:    "Time spent waiting for a connection to become available",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"pool"})

	// ConnectionErrors counts errors by type per pool.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connpool_connection_errors_total",
		Help: "Total connection errors",
	}, []string{"pool", "error_type"})

	// ValidationDuration tracks liveness-probe latency per pool.
	ValidationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connpool_validation_duration_seconds",
		Help:    "Liveness validation duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"pool"})

	// RedisOperations counts distributed-coordinator Redis operations.
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connpool_redis_operations_total",
		Help: "Total Redis operations issued by the distributed coordinator",
	}, []string{"operation", "status"})

	// InstanceHeartbeat tracks per-instance liveness (1 = alive, 0 = dead).
	InstanceHeartbeat = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_instance_heartbeat",
		Help: "Instance heartbeat (1 = alive, 0 = dead)",
	}, []string{"instance_id"})
)
