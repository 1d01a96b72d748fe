package config

import (
	"github.com/TritonDataCenter/manta-nfs/pkg/cache"
	"github.com/TritonDataCenter/manta-nfs/pkg/metrics"
	promMetrics "github.com/TritonDataCenter/manta-nfs/pkg/metrics/prometheus"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// NFSMetrics is the metrics collector for the RPC adapters (never nil, uses noop if disabled)
	NFSMetrics metrics.NFSMetrics

	// CacheMetrics is nil if disabled.
	CacheMetrics cache.Metrics

	// RemoteMetrics is nil if disabled.
	RemoteMetrics remote.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed collectors for the adapters, the cache
//     engine and the remote store
//
// If metrics are disabled the server is nil and the adapters get the no-op
// collector.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			NFSMetrics: metrics.NewNoopNFSMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Server.Metrics.Port,
		}),
		NFSMetrics:    promMetrics.NewNFSMetrics(),
		CacheMetrics:  promMetrics.NewCacheMetrics(),
		RemoteMetrics: promMetrics.NewRemoteMetrics(),
	}
}
