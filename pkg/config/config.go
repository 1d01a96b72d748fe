package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TritonDataCenter/manta-nfs/pkg/adapter/nfs"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata/badger"
)

// appName names the XDG config directory and the environment prefix.
const appName = "manta-nfs"

// EnvPrefix prefixes environment overrides: MANTANFS_CACHE_LOCATION
// overrides cache.location.
const EnvPrefix = "MANTANFS"

// Config represents the complete gateway configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags bound with BindFlags (highest priority)
//  2. Environment variables (MANTANFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Cache configures the local disk cache and its metadata store
	Cache CacheConfig `mapstructure:"cache"`

	// Remote selects the object store behind the cache
	Remote RemoteConfig `mapstructure:"remote"`

	// Exports restricts which directories may be mounted. Empty allows
	// every path.
	Exports []string `mapstructure:"exports" validate:"dive,startswith=/"`

	// Attributes are the owner and modes reported for every object
	Attributes AttributesConfig `mapstructure:"attributes"`

	// Portmap selects the embedded portmapper or host registration
	Portmap PortmapConfig `mapstructure:"portmap"`

	// Adapters configures the nfsd and mountd listeners
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds adapter shutdown and the final write-back
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// User and Group are the identity switched to once every listener is
	// bound. Empty keeps the current identity.
	User  string `mapstructure:"user"`
	Group string `mapstructure:"group"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=0,max=65535"`
}

// CacheConfig configures the disk cache engine.
type CacheConfig struct {
	// Location is the directory holding cached file content
	Location string `mapstructure:"location" validate:"required"`

	// MaxFiles bounds the number of resident entries
	MaxFiles int `mapstructure:"max_files" validate:"gt=0"`

	// SizeMB bounds the resident bytes, in MiB
	SizeMB int64 `mapstructure:"size_mb" validate:"gt=0"`

	// TTL is how long an unused entry stays resident
	TTL time.Duration `mapstructure:"ttl" validate:"gt=0"`

	// ReapInterval is the period of the TTL sweep
	ReapInterval time.Duration `mapstructure:"reap_interval" validate:"gt=0"`

	// FlushInterval is the period of the background write-back of dirty
	// entries. 0 leaves uploads to COMMIT and shutdown.
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gte=0"`

	// Metadata selects the store persisting cache entries and handles
	Metadata MetadataConfig `mapstructure:"metadata"`
}

// MaxSizeBytes returns the byte budget.
func (c *CacheConfig) MaxSizeBytes() int64 {
	return c.SizeMB << 20
}

// MetadataConfig selects the persistent metadata store.
type MetadataConfig struct {
	// Type specifies which store implementation to use
	// Valid values: badger, memory
	Type string `mapstructure:"type" validate:"required,oneof=badger memory"`

	// Badger is used when Type = "badger"
	Badger badger.Config `mapstructure:"badger"`
}

// RemoteConfig selects the remote object store.
type RemoteConfig struct {
	// Type specifies which remote implementation to use
	// Valid values: s3, memory
	Type string `mapstructure:"type" validate:"required,oneof=s3 memory"`

	// S3 is used when Type = "s3"
	S3 S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 compatible remote.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries" validate:"gte=0"`
}

// AttributesConfig sets the ownership and permission bits reported to
// clients. The remote store has no notion of either.
type AttributesConfig struct {
	UID uint32 `mapstructure:"uid"`
	GID uint32 `mapstructure:"gid"`

	// DirMode and FileMode are permission bits (e.g., 0755)
	DirMode  uint32 `mapstructure:"dir_mode" validate:"lte=511"`  // 511 = 0777 in decimal
	FileMode uint32 `mapstructure:"file_mode" validate:"lte=511"` // 511 = 0777 in decimal
}

// PortmapConfig selects how clients locate mountd and nfsd.
type PortmapConfig struct {
	// Enabled turns portmapper support on at all
	Enabled bool `mapstructure:"enabled"`

	// UseHost registers with the host's rpcbind instead of running the
	// embedded portmapper
	UseHost bool `mapstructure:"use_host"`

	// Bind and Port are the embedded portmapper's listen address
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port" validate:"min=0,max=65535"`

	// HostAddress is the rpcbind address used when UseHost is set
	HostAddress string `mapstructure:"host_address"`
}

// AdaptersConfig configures the RPC listeners.
type AdaptersConfig struct {
	// NFS is the nfsd listener. MOUNT is served there too.
	NFS nfs.NFSConfig `mapstructure:"nfs"`

	// Mount is the mountd listener
	Mount nfs.NFSConfig `mapstructure:"mount"`
}

// Load loads configuration from file, environment, flags and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//   - flags: Optional flag set; see BindFlags for the flags consulted
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	// Only the default location may be absent.
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	v := viper.New()

	setupViper(v, configPath)
	setDefaults(v)

	if flags != nil {
		if err := BindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// decodeHook converts duration strings ("30s") and comma separated lists.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: MANTANFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/manta-nfs/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// setDefaults registers every key with viper. Besides supplying defaults,
// this is what lets AutomaticEnv override keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.user", d.Server.User)
	v.SetDefault("server.group", d.Server.Group)
	v.SetDefault("server.metrics.enabled", d.Server.Metrics.Enabled)
	v.SetDefault("server.metrics.port", d.Server.Metrics.Port)

	v.SetDefault("cache.location", d.Cache.Location)
	v.SetDefault("cache.max_files", d.Cache.MaxFiles)
	v.SetDefault("cache.size_mb", d.Cache.SizeMB)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.reap_interval", d.Cache.ReapInterval)
	v.SetDefault("cache.flush_interval", d.Cache.FlushInterval)
	v.SetDefault("cache.metadata.type", d.Cache.Metadata.Type)
	// db_path derives from the final location in ApplyDefaults.
	v.SetDefault("cache.metadata.badger.db_path", "")

	v.SetDefault("remote.type", d.Remote.Type)
	for _, key := range []string{"bucket", "key_prefix", "region", "endpoint", "access_key_id", "secret_access_key"} {
		v.SetDefault("remote.s3."+key, "")
	}
	v.SetDefault("remote.s3.max_retries", d.Remote.S3.MaxRetries)

	v.SetDefault("exports", []string{})

	v.SetDefault("attributes.uid", d.Attributes.UID)
	v.SetDefault("attributes.gid", d.Attributes.GID)
	v.SetDefault("attributes.dir_mode", d.Attributes.DirMode)
	v.SetDefault("attributes.file_mode", d.Attributes.FileMode)

	v.SetDefault("portmap.enabled", d.Portmap.Enabled)
	v.SetDefault("portmap.use_host", d.Portmap.UseHost)
	v.SetDefault("portmap.bind", d.Portmap.Bind)
	v.SetDefault("portmap.port", d.Portmap.Port)
	v.SetDefault("portmap.host_address", d.Portmap.HostAddress)

	for name, a := range map[string]nfs.NFSConfig{"nfs": d.Adapters.NFS, "mount": d.Adapters.Mount} {
		prefix := "adapters." + name + "."
		v.SetDefault(prefix+"bind", a.Bind)
		v.SetDefault(prefix+"port", a.Port)
		v.SetDefault(prefix+"max_connections", a.MaxConnections)
		v.SetDefault(prefix+"read_timeout", a.ReadTimeout)
		v.SetDefault(prefix+"write_timeout", a.WriteTimeout)
		v.SetDefault(prefix+"idle_timeout", a.IdleTimeout)
		v.SetDefault(prefix+"shutdown_timeout", a.ShutdownTimeout)
		v.SetDefault(prefix+"metrics_log_interval", a.MetricsLogInterval)
		v.SetDefault(prefix+"requests_per_second", a.RequestsPerSecond)
		v.SetDefault(prefix+"burst", a.Burst)
	}
}

// BindFlags binds the command line flags that mirror config keys:
// --cache-location and --log-format. Flags missing from the set are
// skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"cache.location": "cache-location",
		"logging.format": "log-format",
	}
	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", appName)
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
