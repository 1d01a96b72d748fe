package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "info"

remote:
  type: memory

exports:
  - /stor
`)

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Cache.Location != "/var/tmp/mfsdb" {
		t.Errorf("Expected default cache location, got %q", cfg.Cache.Location)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Expected default ttl 1h, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.FlushInterval != 30*time.Second {
		t.Errorf("Expected default flush_interval 30s, got %v", cfg.Cache.FlushInterval)
	}
	if cfg.Cache.Metadata.Badger.DBPath != "/var/tmp/mfsdb-meta" {
		t.Errorf("Expected derived db_path, got %q", cfg.Cache.Metadata.Badger.DBPath)
	}
	if !cfg.Portmap.Enabled {
		t.Error("Expected portmap enabled by default")
	}
	if cfg.Adapters.NFS.Port != DefaultNFSPort {
		t.Errorf("Expected default NFS port %d, got %d", DefaultNFSPort, cfg.Adapters.NFS.Port)
	}
	if cfg.Adapters.Mount.Port != DefaultMountPort {
		t.Errorf("Expected default MOUNT port %d, got %d", DefaultMountPort, cfg.Adapters.Mount.Port)
	}
	if len(cfg.Exports) != 1 || cfg.Exports[0] != "/stor" {
		t.Errorf("Expected exports [/stor], got %v", cfg.Exports)
	}
}

func TestLoad_Durations(t *testing.T) {
	configPath := writeConfig(t, `
remote:
  type: memory
cache:
  ttl: 90s
  reap_interval: 5s
  flush_interval: 0s
adapters:
  nfs:
    idle_timeout: 2m
`)

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("Expected ttl 90s, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.ReapInterval != 5*time.Second {
		t.Errorf("Expected reap_interval 5s, got %v", cfg.Cache.ReapInterval)
	}
	if cfg.Cache.FlushInterval != 0 {
		t.Errorf("Expected write-back loop disabled, got %v", cfg.Cache.FlushInterval)
	}
	if cfg.Adapters.NFS.IdleTimeout != 2*time.Minute {
		t.Errorf("Expected idle_timeout 2m, got %v", cfg.Adapters.NFS.IdleTimeout)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Point the default location at an empty directory so the user's own
	// config is never read.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MANTANFS_REMOTE_TYPE", "memory")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Cache.Metadata.Type != "badger" {
		t.Errorf("Expected default metadata type 'badger', got %q", cfg.Cache.Metadata.Type)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"), nil)
	if err == nil {
		t.Fatal("Expected error for a missing explicit config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "INFO"
  invalid yaml here
    bad indentation
`)

	if _, err := Load(configPath, nil); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	// s3 is the default remote and needs a bucket.
	configPath := writeConfig(t, `
remote:
  s3:
    region: us-east-1
`)

	if _, err := Load(configPath, nil); err == nil {
		t.Fatal("Expected validation error for s3 without bucket")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("MANTANFS_LOGGING_LEVEL", "error")
	t.Setenv("MANTANFS_ADAPTERS_NFS_PORT", "5049")
	t.Setenv("MANTANFS_CACHE_TTL", "10m")
	t.Setenv("MANTANFS_EXPORTS", "/a,/b")

	configPath := writeConfig(t, `
logging:
  level: "INFO"
remote:
  type: memory
adapters:
  nfs:
    port: 2049
`)

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.NFS.Port != 5049 {
		t.Errorf("Expected port 5049 from env var, got %d", cfg.Adapters.NFS.Port)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Expected ttl 10m from env var, got %v", cfg.Cache.TTL)
	}
	if len(cfg.Exports) != 2 || cfg.Exports[0] != "/a" || cfg.Exports[1] != "/b" {
		t.Errorf("Expected exports [/a /b] from env var, got %v", cfg.Exports)
	}
}

func TestLoad_Flags(t *testing.T) {
	configPath := writeConfig(t, `
remote:
  type: memory
cache:
  location: /from/file
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("cache-location", "", "")
	flags.String("log-format", "", "")
	if err := flags.Parse([]string{"--cache-location", "/from/flag", "--log-format", "json"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := Load(configPath, flags)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Cache.Location != "/from/flag" {
		t.Errorf("Expected flag to override location, got %q", cfg.Cache.Location)
	}
	if cfg.Cache.Metadata.Badger.DBPath != "/from/flag-meta" {
		t.Errorf("Expected db_path derived from flag location, got %q", cfg.Cache.Metadata.Badger.DBPath)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected flag to set format 'json', got %q", cfg.Logging.Format)
	}
}

func TestLoad_UnsetFlagsKeepFileValues(t *testing.T) {
	configPath := writeConfig(t, `
remote:
  type: memory
cache:
  location: /from/file
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("cache-location", "", "")
	if err := flags.Parse(nil); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := Load(configPath, flags)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Cache.Location != "/from/file" {
		t.Errorf("Expected file value to survive an unset flag, got %q", cfg.Cache.Location)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "manta-nfs", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if got := GetConfigDir(); got != filepath.Join(dir, "manta-nfs") {
		t.Errorf("Unexpected config dir %q", got)
	}
	if ConfigExists() {
		t.Error("Expected no config in an empty directory")
	}
}

func TestGetConfigDir_HomeFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)

	want := filepath.Join(home, ".config", "manta-nfs")
	if got := GetConfigDir(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
