package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migration_dash_cache_hits_total",
		Help: "Total number of snapshot requests served from the cache file.",
	})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migration_dash_cache_misses_total",
		Help: "Total number of snapshot requests that required a recompute, by cache status.",
	}, []string{"status"})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "migration_dash_refresh_seconds",
		Help:    "Time spent computing a snapshot from the database.",
		Buckets: prometheus.DefBuckets,
	})

	RefreshErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migration_dash_refresh_errors_total",
		Help: "Total number of failed snapshot computations.",
	})

	UsersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "migration_dash_users_total",
		Help: "Total number of users in the last snapshot.",
	})

	MigratedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "migration_dash_migrated_users",
		Help: "Number of migrated users in the last snapshot.",
	})

	MigrationRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "migration_dash_migration_rate_percent",
		Help: "Migration rate in percent in the last snapshot.",
	})

	PublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migration_dash_publish_errors_total",
		Help: "Total number of snapshot notifications that could not be published.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migration_dash_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migration_dash_http_request_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// StatusBucket groups HTTP status codes into 1xx..5xx labels.
func StatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
