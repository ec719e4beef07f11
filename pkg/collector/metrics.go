package collector

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters and gauges a Collector run reports into.
// Fields are injected by the caller (mirroring the source's pattern of
// passing a prometheus.Counter into a component's constructor rather than
// reaching for a global registry); a nil Metrics is valid and every method
// on it is a no-op.
type Metrics struct {
	BlobsFound      *prometheus.CounterVec
	BlobsSuccessful *prometheus.CounterVec
	BlobsError      *prometheus.CounterVec
	BlobsRetried    *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	CacheSize       *prometheus.GaugeVec
	BookmarkAge     *prometheus.GaugeVec
}

func (m *Metrics) found(tenant string, contentType ContentType) {
	if m == nil || m.BlobsFound == nil {
		return
	}
	m.BlobsFound.WithLabelValues(tenant, string(contentType)).Inc()
}

func (m *Metrics) successful(tenant string, contentType ContentType) {
	if m == nil || m.BlobsSuccessful == nil {
		return
	}
	m.BlobsSuccessful.WithLabelValues(tenant, string(contentType)).Inc()
}

func (m *Metrics) errored(tenant string, contentType ContentType) {
	if m == nil || m.BlobsError == nil {
		return
	}
	m.BlobsError.WithLabelValues(tenant, string(contentType)).Inc()
}

func (m *Metrics) retried(tenant string) {
	if m == nil || m.BlobsRetried == nil {
		return
	}
	m.BlobsRetried.WithLabelValues(tenant).Inc()
}

func (m *Metrics) rateLimited(tenant string) {
	if m == nil || m.RateLimited == nil {
		return
	}
	m.RateLimited.WithLabelValues(tenant).Inc()
}

func (m *Metrics) cacheSize(tenant string, size int) {
	if m == nil || m.CacheSize == nil {
		return
	}
	m.CacheSize.WithLabelValues(tenant).Set(float64(size))
}

func (m *Metrics) bookmarkAge(tenant string, subscription ContentType, seconds float64) {
	if m == nil || m.BookmarkAge == nil {
		return
	}
	m.BookmarkAge.WithLabelValues(tenant, string(subscription)).Set(seconds)
}
