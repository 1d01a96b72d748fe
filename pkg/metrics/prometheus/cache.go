package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TritonDataCenter/manta-nfs/pkg/cache"
	"github.com/TritonDataCenter/manta-nfs/pkg/metrics"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
type cacheMetrics struct {
	lookups       *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	residentFiles prometheus.Gauge
	residentBytes prometheus.Gauge
}

// NewCacheMetrics returns cache collectors on the global registry, or nil
// when metrics are disabled (the engine then uses its own no-op).
func NewCacheMetrics() cache.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newCacheMetrics(metrics.GetRegistry())
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	f := promauto.With(reg)
	return &cacheMetrics{
		lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Cache lookups by result (hit or miss)",
			},
			[]string{"result"},
		),
		evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Entries evicted, by reason",
			},
			[]string{"reason"},
		),
		residentFiles: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "resident_files",
				Help:      "Entries currently resident in the disk cache",
			},
		),
		residentBytes: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "resident_bytes",
				Help:      "Bytes currently resident in the disk cache",
			},
		),
	}
}

func (m *cacheMetrics) RecordHit() {
	m.lookups.WithLabelValues("hit").Inc()
}

func (m *cacheMetrics) RecordMiss() {
	m.lookups.WithLabelValues("miss").Inc()
}

func (m *cacheMetrics) RecordEviction(reason string) {
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *cacheMetrics) SetResident(files int, bytes int64) {
	m.residentFiles.Set(float64(files))
	m.residentBytes.Set(float64(bytes))
}
