// Package observability holds the prometheus collectors of the service.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	backendOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_op_duration_seconds",
			Help:    "Latency of storage backend operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"backend", "op", "outcome"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Listing cache results by outcome.",
		},
		[]string{"outcome"},
	)

	hotQueries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_hot_queries",
			Help: "Listing queries with a tracked hotness score.",
		},
	)

	entityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_events_total",
			Help: "Entity change events by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	kafkaConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Errors while consuming entity change events.",
		},
		[]string{"kind"},
	)

	invalidationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Consumed change events by entity type and outcome.",
		},
		[]string{"entity_type", "outcome"},
	)

	invalidationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invalidation_process_seconds",
			Help:    "Time spent applying one change event to the listing cache.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	integrityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_rejections_total",
			Help: "Mutations rejected by referential integrity checks.",
		},
		[]string{"entity_type", "reason"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveBackendOp(backend, op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	backendOpDurationSeconds.WithLabelValues(backend, op, outcome).Observe(durationSeconds)
}

func IncCacheHit()   { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheResults.WithLabelValues("miss").Inc() }
func IncCacheError() { cacheResults.WithLabelValues("error").Inc() }

// IncCacheSkip counts misses that were not stored because the query is still cold
func IncCacheSkip() { cacheResults.WithLabelValues("cold").Inc() }

func SetHotQueries(n int) { hotQueries.Set(float64(n)) }

func IncEntityEvent(op, outcome string) {
	entityEvents.WithLabelValues(op, outcome).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ObserveInvalidation(entityType string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	invalidationEvents.WithLabelValues(entityType, outcome).Inc()
	invalidationSeconds.Observe(durationSeconds)
}

func IncIntegrityRejection(entityType, reason string) {
	integrityRejections.WithLabelValues(entityType, reason).Inc()
}
