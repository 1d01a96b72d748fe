// Package metrics holds the Prometheus registry and the HTTP endpoint that
// exposes it. The collectors themselves live in pkg/metrics/prometheus.
//
// Metrics are optional: until InitRegistry is called every constructor
// returns a no-op implementation.
//
//	metrics.InitRegistry()
//	nfsMetrics := prommetrics.NewNFSMetrics()
//	cacheMetrics := prommetrics.NewCacheMetrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and read everywhere else.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global Prometheus registry, with the Go runtime
// and process collectors attached. Later calls are ignored. It must run
// before any collector is constructed.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil while metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
