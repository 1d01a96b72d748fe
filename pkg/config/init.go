package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// sampleConfig is written by `manta-nfs init`. Every key is shown with its
// default value.
const sampleConfig = `# manta-nfs Configuration File
#
# Values may be overridden with MANTANFS_* environment variables, for
# example MANTANFS_CACHE_LOCATION=/data/cache.

logging:
  # DEBUG, INFO, WARN or ERROR
  level: INFO
  # text or json
  format: text
  # stdout, stderr or a file path
  output: stdout

server:
  shutdown_timeout: 30s
  # Identity to switch to once the listeners are bound (e.g. nobody).
  # user: nobody
  # group: nobody
  metrics:
    enabled: false
    port: 9090

cache:
  # Directory holding cached file content
  location: /var/tmp/mfsdb
  # Resident budgets
  max_files: 100
  size_mb: 1024
  # How long an unused entry stays resident, and how often that is checked
  ttl: 1h
  reap_interval: 1m
  # Background upload of modified files (0 = only on COMMIT and shutdown)
  flush_interval: 30s
  metadata:
    # badger or memory
    type: badger
    badger:
      # Defaults to <location>-meta
      # db_path: /var/tmp/mfsdb-meta
      block_cache_size_mb: 32
      index_cache_size_mb: 16

remote:
  # s3 or memory
  type: s3
  s3:
    bucket: manta
    region: us-east-1
    # endpoint: https://manta.example.com
    # key_prefix: stor/
    # access_key_id: ""
    # secret_access_key: ""
    max_retries: 3

# Directories clients may mount. Empty allows every path.
exports: []
#  - /stor
#  - /public

attributes:
  uid: 0
  gid: 0
  dir_mode: 0755
  file_mode: 0644

portmap:
  enabled: true
  # Register with the host's rpcbind instead of running our own
  use_host: false
  port: 111
  host_address: 127.0.0.1:111

adapters:
  nfs:
    port: 2049
    max_connections: 0
    read_timeout: 5m
    write_timeout: 30s
    idle_timeout: 5m
    shutdown_timeout: 30s
    metrics_log_interval: 5m
    # Token bucket for incoming calls (0 = unlimited)
    requests_per_second: 0
    burst: 0
  mount:
    port: 1892
`

// InitConfig writes the sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the sample configuration to path, creating parent
// directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	// Never write something Load would choke on.
	var probe map[string]any
	if err := yaml.Unmarshal([]byte(sampleConfig), &probe); err != nil {
		return fmt.Errorf("sample config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
