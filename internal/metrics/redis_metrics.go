package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	redisRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_requests_total",
			Help: "Total number of Redis requests",
		},
		[]string{"operation"}, // get, set, delete
	)

	redisCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	redisCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	redisErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"operation"},
	)

	redisRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_request_duration_seconds",
			Help:    "Redis request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	redisCacheSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_cache_size_bytes",
			Help: "Redis used_memory in bytes.",
		},
	)
)

func registerRedisMetrics() {
	prometheus.MustRegister(
		redisRequestsTotal,
		redisCacheHitsTotal,
		redisCacheMissesTotal,
		redisErrorsTotal,
		redisRequestDuration,
		redisCacheSizeBytes,
	)
}

func IncRedisRequest(operation string) { redisRequestsTotal.WithLabelValues(operation).Inc() }
func IncRedisHit()                     { redisCacheHitsTotal.Inc() }
func IncRedisMiss()                    { redisCacheMissesTotal.Inc() }
func IncRedisError(operation string)   { redisErrorsTotal.WithLabelValues(operation).Inc() }
func ObserveRedisDuration(operation string, d time.Duration) {
	redisRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}
func SetRedisCacheSizeBytes(n int64) {
	if n < 0 {
		n = 0
	}
	redisCacheSizeBytes.Set(float64(n))
}
