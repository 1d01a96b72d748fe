package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/rpc"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/portmap"
	"github.com/TritonDataCenter/manta-nfs/pkg/registry"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata/badger"
)

func TestCreateMetadataStore_Memory(t *testing.T) {
	store, err := CreateMetadataStore(context.Background(), &MetadataConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer func() { _ = store.Close() }()
}

func TestCreateMetadataStore_Badger(t *testing.T) {
	cfg := &MetadataConfig{
		Type:   "badger",
		Badger: badger.Config{DBPath: filepath.Join(t.TempDir(), "meta")},
	}

	store, err := CreateMetadataStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create badger store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close badger store: %v", err)
	}
}

func TestCreateMetadataStore_UnknownType(t *testing.T) {
	_, err := CreateMetadataStore(context.Background(), &MetadataConfig{Type: "unknown"})
	if err == nil {
		t.Fatal("Expected error for unknown metadata store type")
	}
}

func TestCreateMetadataStore_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &MetadataConfig{
		Type:   "badger",
		Badger: badger.Config{DBPath: filepath.Join(t.TempDir(), "meta")},
	}
	if _, err := CreateMetadataStore(ctx, cfg); err == nil {
		t.Fatal("Expected error with cancelled context")
	}
}

func TestCreateRemoteStore_Memory(t *testing.T) {
	store, err := CreateRemoteStore(context.Background(), &RemoteConfig{Type: "memory"}, nil)
	if err != nil {
		t.Fatalf("Failed to create memory remote: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}
}

func TestCreateRemoteStore_UnknownType(t *testing.T) {
	_, err := CreateRemoteStore(context.Background(), &RemoteConfig{Type: "ftp"}, nil)
	if err == nil {
		t.Fatal("Expected error for unknown remote type")
	}
}

// newTestRegistry builds the full store, engine, filesystem and registry
// chain from a memory-backed configuration.
func newTestRegistry(t *testing.T, exports []string) *registry.Registry {
	t.Helper()
	ctx := context.Background()

	cfg := validConfig()
	cfg.Cache.Location = filepath.Join(t.TempDir(), "cache")
	cfg.Cache.Metadata.Type = "memory"

	store, err := CreateMetadataStore(ctx, &cfg.Cache.Metadata)
	if err != nil {
		t.Fatalf("Failed to create metadata store: %v", err)
	}
	remoteStore, err := CreateRemoteStore(ctx, &cfg.Remote, nil)
	if err != nil {
		t.Fatalf("Failed to create remote store: %v", err)
	}

	engine, err := CreateEngine(&cfg.Cache, store, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() {
		_ = engine.Close()
		_ = store.Close()
	})

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := engine.WaitReady(waitCtx); err != nil {
		t.Fatalf("Engine never became ready: %v", err)
	}

	fs := CreateFilesystem(engine, remoteStore, &cfg.Attributes)
	reg, err := CreateRegistry(fs, exports)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	return reg
}

func TestCreateRegistry_Exports(t *testing.T) {
	reg := newTestRegistry(t, []string{"/stor", "/public/"})

	if !reg.IsExported("/stor") {
		t.Error("Expected /stor to be exported")
	}
	if !reg.IsExported("/public") {
		t.Error("Expected normalized /public to be exported")
	}
	if reg.IsExported("/jobs") {
		t.Error("Did not expect /jobs to be exported")
	}
}

func TestCreateRegistry_DuplicateExport(t *testing.T) {
	reg := newTestRegistry(t, nil)
	if _, err := CreateRegistry(reg.FS(), []string{"/stor", "/stor"}); err == nil {
		t.Fatal("Expected error for duplicate export")
	}
}

func TestCreateAdapters_EmbeddedPortmap(t *testing.T) {
	reg := newTestRegistry(t, nil)

	cfg := validConfig()
	cfg.Adapters.NFS.Bind = "127.0.0.1"
	cfg.Adapters.NFS.Port = 0
	cfg.Adapters.Mount.Bind = "127.0.0.1"
	cfg.Adapters.Mount.Port = 0
	cfg.Portmap.Bind = "127.0.0.1"
	cfg.Portmap.Port = 0

	adapters, err := CreateAdapters(cfg, reg, nil)
	if err != nil {
		t.Fatalf("Failed to create adapters: %v", err)
	}

	list := adapters.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 adapters, got %d", len(list))
	}
	if list[0].Protocol() != "PORTMAP" || list[2].Protocol() != "NFS" {
		t.Errorf("Unexpected adapter order: %s, %s, %s",
			list[0].Protocol(), list[1].Protocol(), list[2].Protocol())
	}

	for _, a := range list {
		if err := a.Listen(); err != nil {
			t.Fatalf("Listen %s: %v", a.Protocol(), err)
		}
	}
	defer func() {
		for _, a := range list {
			_ = a.Stop(context.Background())
		}
	}()

	if err := adapters.Register(context.Background()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	nfsPort := adapters.Service.GetPort(rpc.ProgramNFS, rpc.NFSVersion3, portmap.IPProtoTCP)
	if int(nfsPort) != adapters.NFS.Port() || nfsPort == 0 {
		t.Errorf("Expected nfs mapped to bound port %d, got %d", adapters.NFS.Port(), nfsPort)
	}
	mountPort := adapters.Service.GetPort(rpc.ProgramMount, rpc.MountVersion3, portmap.IPProtoTCP)
	if int(mountPort) != adapters.Mount.Port() {
		t.Errorf("Expected mount mapped to bound port %d, got %d", adapters.Mount.Port(), mountPort)
	}
	pmapPort := adapters.Service.GetPort(rpc.ProgramPortmap, rpc.PortmapVersion, portmap.IPProtoTCP)
	if int(pmapPort) != adapters.Portmap.Port() {
		t.Errorf("Expected portmapper mapped to bound port %d, got %d", adapters.Portmap.Port(), pmapPort)
	}

	// Unregister only concerns the host portmapper.
	if err := adapters.Unregister(context.Background()); err != nil {
		t.Errorf("Unregister: %v", err)
	}
}

func TestCreateAdapters_PortmapModes(t *testing.T) {
	reg := newTestRegistry(t, nil)

	cfg := validConfig()
	cfg.Portmap.Enabled = false
	adapters, err := CreateAdapters(cfg, reg, nil)
	if err != nil {
		t.Fatalf("Failed to create adapters: %v", err)
	}
	if len(adapters.List()) != 2 || adapters.Service != nil || adapters.Registrar != nil {
		t.Error("Expected only mount and nfs adapters with portmap disabled")
	}
	if err := adapters.Register(context.Background()); err != nil {
		t.Errorf("Register with portmap disabled should be a no-op: %v", err)
	}

	cfg = validConfig()
	cfg.Portmap.UseHost = true
	adapters, err = CreateAdapters(cfg, reg, nil)
	if err != nil {
		t.Fatalf("Failed to create adapters: %v", err)
	}
	if len(adapters.List()) != 2 || adapters.Registrar == nil {
		t.Error("Expected a host registrar and no embedded portmapper")
	}
}
