package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the source's pattern of package-level prometheus vars
// grouped by subsystem, collected through an All() accessor so app
// bootstrap can register them on a single registry.

var BlobsFoundTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "feedrelay",
		Subsystem: "blobs",
		Name:      "found_total",
		Help:      "Total number of content blobs discovered, by tenant and content type.",
	},
	[]string{"tenant", "content_type"},
)

var BlobsSuccessfulTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "feedrelay",
		Subsystem: "blobs",
		Name:      "successful_total",
		Help:      "Total number of content blobs fetched and processed successfully.",
	},
	[]string{"tenant", "content_type"},
)

var BlobsErrorTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "feedrelay",
		Subsystem: "blobs",
		Name:      "error_total",
		Help:      "Total number of content blobs abandoned after retry exhaustion or a permanent error.",
	},
	[]string{"tenant", "content_type"},
)

var BlobsRetriedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "feedrelay",
		Subsystem: "blobs",
		Name:      "retried_total",
		Help:      "Total number of retry attempts issued for blob discovery or fetch URLs.",
	},
	[]string{"tenant"},
)

var RateLimitedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "feedrelay",
		Subsystem: "run",
		Name:      "rate_limited_total",
		Help:      "Total number of times a tenant run entered rate-limit backoff.",
	},
	[]string{"tenant"},
)

var KnownBlobsCacheSize = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "feedrelay",
		Subsystem: "known_blobs_cache",
		Name:      "size",
		Help:      "Current number of entries held in a tenant's known-blobs cache.",
	},
	[]string{"tenant"},
)

var BookmarkAgeSeconds = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "feedrelay",
		Subsystem: "bookmark",
		Name:      "age_seconds",
		Help:      "Seconds since the last_log_time recorded in a subscription's bookmark.",
	},
	[]string{"tenant", "subscription"},
)

var RunDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "feedrelay",
		Subsystem: "run",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of a single tenant collection run.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	},
	[]string{"tenant"},
)

// All returns every collector this package defines, for registration on a
// single prometheus.Registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		BlobsFoundTotal,
		BlobsSuccessfulTotal,
		BlobsErrorTotal,
		BlobsRetriedTotal,
		RateLimitedTotal,
		KnownBlobsCacheSize,
		BookmarkAgeSeconds,
		RunDurationSeconds,
	}
}

// NewMetricsRegistry builds a registry carrying the given collectors, same
// as the source's coretelemetry.NewMetricsRegistry.
func NewMetricsRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors...)
	return reg
}
