package config

import (
	"context"
	"fmt"
	"os"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/cache"
	"github.com/TritonDataCenter/manta-nfs/pkg/registry"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
	remotememory "github.com/TritonDataCenter/manta-nfs/pkg/remote/memory"
	remotes3 "github.com/TritonDataCenter/manta-nfs/pkg/remote/s3"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata/badger"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata/memory"
	"github.com/TritonDataCenter/manta-nfs/pkg/vfs"
)

// CreateMetadataStore creates the store persisting cache entries and
// handle records.
//
// Supported types:
//   - "badger": BadgerDB at cache.metadata.badger.db_path (persistent)
//   - "memory": in-memory B-tree (ephemeral, for testing)
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig) (metadata.Store, error) {
	switch cfg.Type {
	case "badger":
		store, err := badger.New(ctx, cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger metadata store: %w", err)
		}
		logger.Info("Badger metadata store opened at %s", cfg.Badger.DBPath)
		return store, nil

	case "memory":
		logger.Warn("Using in-memory metadata store: cache contents are rescanned from disk on restart and handles change")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown metadata store type: %q", cfg.Type)
	}
}

// CreateRemoteStore creates the remote object store. A non-nil m wraps it
// with operation metrics.
//
// Supported types:
//   - "s3": any S3 compatible endpoint (Manta's S3 layer, MinIO, AWS)
//   - "memory": in-memory tree (for testing)
func CreateRemoteStore(ctx context.Context, cfg *RemoteConfig, m remote.Metrics) (remote.Store, error) {
	var store remote.Store

	switch cfg.Type {
	case "s3":
		client, err := remotes3.NewClient(ctx, remotes3.ClientConfig{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			MaxRetries:      cfg.S3.MaxRetries,
		})
		if err != nil {
			return nil, err
		}

		s, err := remotes3.New(ctx, remotes3.Config{
			Client:    client,
			Bucket:    cfg.S3.Bucket,
			KeyPrefix: cfg.S3.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 remote: %w", err)
		}
		logger.Info("S3 remote initialized: bucket=%s, region=%s, prefix=%s",
			cfg.S3.Bucket, cfg.S3.Region, cfg.S3.KeyPrefix)
		store = s

	case "memory":
		logger.Warn("Using in-memory remote store: nothing is persisted")
		store = remotememory.New()

	default:
		return nil, fmt.Errorf("unknown remote store type: %q", cfg.Type)
	}

	return remote.Instrument(store, m), nil
}

// CreateEngine creates the disk cache engine over store. Recovery of the
// existing cache runs in the background; callers wait with WaitReady.
func CreateEngine(cfg *CacheConfig, store metadata.Store, m cache.Metrics) (*cache.Engine, error) {
	if err := os.MkdirAll(cfg.Location, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cfg.Location, err)
	}

	engine, err := cache.New(cache.Config{
		Location:     cfg.Location,
		Store:        store,
		MaxFiles:     cfg.MaxFiles,
		MaxSize:      cfg.MaxSizeBytes(),
		TTL:          cfg.TTL,
		ReapInterval: cfg.ReapInterval,
		Metrics:      m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache engine: %w", err)
	}

	logger.Info("Cache engine at %s: max_files=%d size=%dMB ttl=%v",
		cfg.Location, cfg.MaxFiles, cfg.SizeMB, cfg.TTL)
	return engine, nil
}

// CreateFilesystem joins the engine with the remote store.
func CreateFilesystem(engine *cache.Engine, store remote.Store, cfg *AttributesConfig) *vfs.FS {
	return vfs.New(engine, store, vfs.Config{
		UID:      cfg.UID,
		GID:      cfg.GID,
		DirMode:  os.FileMode(cfg.DirMode),
		FileMode: os.FileMode(cfg.FileMode),
	})
}

// CreateRegistry builds the registry for fs with the configured exports.
func CreateRegistry(fs *vfs.FS, exports []string) (*registry.Registry, error) {
	reg := registry.New(fs)
	for _, p := range exports {
		if err := reg.AddExport(p); err != nil {
			return nil, fmt.Errorf("export %q: %w", p, err)
		}
		logger.Info("Export added: %s", p)
	}
	if len(exports) == 0 {
		logger.Info("No exports configured: every path may be mounted")
	}
	return reg, nil
}
