package config

import (
	"strings"
	"time"

	"github.com/TritonDataCenter/manta-nfs/internal/protocol/portmap"
	"github.com/TritonDataCenter/manta-nfs/pkg/adapter/nfs"
)

// Default listener ports.
const (
	DefaultNFSPort     = 2049
	DefaultMountPort   = 1892
	DefaultPortmapPort = 111
	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "") are replaced with defaults
//   - Explicit values are preserved
//   - Booleans are defaulted through viper in Load, since false is
//     indistinguishable from unset here
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyCacheDefaults(&cfg.Cache)
	applyRemoteDefaults(&cfg.Remote)
	applyAttributesDefaults(&cfg.Attributes)
	applyPortmapDefaults(&cfg.Portmap)

	if cfg.Exports == nil {
		cfg.Exports = []string{}
	}

	applyAdapterDefaults(&cfg.Adapters.NFS, DefaultNFSPort)
	applyAdapterDefaults(&cfg.Adapters.Mount, DefaultMountPort)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Location == "" {
		cfg.Location = "/var/tmp/mfsdb"
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = 100
	}
	if cfg.SizeMB == 0 {
		cfg.SizeMB = 1024
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = time.Minute
	}

	if cfg.Metadata.Type == "" {
		cfg.Metadata.Type = "badger"
	}
	// The metadata database lives next to, not inside, the cache root so
	// the engine's startup scan never sees it.
	if cfg.Metadata.Badger.DBPath == "" {
		cfg.Metadata.Badger.DBPath = strings.TrimRight(cfg.Location, "/") + "-meta"
	}
}

func applyRemoteDefaults(cfg *RemoteConfig) {
	if cfg.Type == "" {
		cfg.Type = "s3"
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = 3
	}
}

func applyAttributesDefaults(cfg *AttributesConfig) {
	// UID and GID default to 0 and are mapped to nobody by the
	// filesystem layer.
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}
}

func applyPortmapDefaults(cfg *PortmapConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPortmapPort
	}
	if cfg.HostAddress == "" {
		cfg.HostAddress = portmap.DefaultHostAddr
	}
}

// applyAdapterDefaults sets listener defaults. Port 0 is taken as unset.
func applyAdapterDefaults(cfg *nfs.NFSConfig, port int) {
	if cfg.Port == 0 {
		cfg.Port = port
	}

	// MaxConnections defaults to 0 (unlimited)

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Registering viper defaults
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Cache: CacheConfig{
			FlushInterval: 30 * time.Second,
		},
		Portmap: PortmapConfig{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
