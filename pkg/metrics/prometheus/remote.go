package prometheus

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TritonDataCenter/manta-nfs/pkg/metrics"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// remoteMetrics is the Prometheus implementation of remote.Metrics.
type remoteMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

// NewRemoteMetrics returns remote-store collectors on the global registry,
// or nil when metrics are disabled.
func NewRemoteMetrics() remote.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newRemoteMetrics(metrics.GetRegistry())
}

func newRemoteMetrics(reg prometheus.Registerer) *remoteMetrics {
	f := promauto.With(reg)
	return &remoteMetrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "operations_total",
				Help:      "Remote store operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "operation_duration_seconds",
				Help:      "Duration of remote store operations in seconds",
				Buckets: []float64{
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1,     // 1s
					5,     // 5s
					30,    // 30s
					120,   // 2m
				},
			},
			[]string{"operation"},
		),
		bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "bytes_total",
				Help:      "Bytes moved by get and put",
			},
			[]string{"operation"},
		),
	}
}

func (m *remoteMetrics) ObserveOperation(op string, duration time.Duration, bytes int64, err error) {
	status := "success"
	switch {
	case errors.Is(err, remote.ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}

	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
	if op == "get" || op == "put" {
		m.bytes.WithLabelValues(op).Add(float64(bytes))
	}
}
