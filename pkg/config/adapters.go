package config

import (
	"context"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	nfs "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs"
	mount "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/mount/handlers"
	nfs3 "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/v3/handlers"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/portmap"
	"github.com/TritonDataCenter/manta-nfs/pkg/adapter"
	nfsadapter "github.com/TritonDataCenter/manta-nfs/pkg/adapter/nfs"
	"github.com/TritonDataCenter/manta-nfs/pkg/metrics"
	"github.com/TritonDataCenter/manta-nfs/pkg/registry"
)

// Adapters is the set of RPC listeners built from the configuration.
type Adapters struct {
	// NFS serves NFS v3 and MOUNT on the nfs port.
	NFS *nfsadapter.NFSAdapter

	// Mount serves MOUNT on the mount port.
	Mount *nfsadapter.NFSAdapter

	// Portmap is the embedded portmapper listener, nil unless
	// portmap.enabled is set without portmap.use_host.
	Portmap *nfsadapter.NFSAdapter

	// Service is the table behind Portmap.
	Service *portmap.Service

	// Registrar registers with the host portmapper, nil unless
	// portmap.use_host is set.
	Registrar *portmap.HostRegistrar

	portmapHost string
}

// CreateAdapters creates the listeners serving reg.
//
// Port registrations depend on the bound ports, so they are only made
// once every adapter listens: call Register from a server OnListening hook
// and Unregister during shutdown.
func CreateAdapters(cfg *Config, reg *registry.Registry, nfsMetrics metrics.NFSMetrics) (*Adapters, error) {
	if nfsMetrics == nil {
		nfsMetrics = metrics.NewNoopNFSMetrics()
	}

	nfsProgram := nfs.NewNFSProgram(nfs3.New(reg.FS()))
	mountProgram := nfs.NewMountProgram(mount.New(reg))

	nfsAdapter, err := nfsadapter.New("NFS", cfg.Adapters.NFS,
		[]*nfs.Program{nfsProgram, mountProgram}, nfsMetrics)
	if err != nil {
		return nil, fmt.Errorf("nfs adapter: %w", err)
	}

	mountAdapter, err := nfsadapter.New("MOUNT", cfg.Adapters.Mount,
		[]*nfs.Program{mountProgram}, nfsMetrics)
	if err != nil {
		return nil, fmt.Errorf("mount adapter: %w", err)
	}

	a := &Adapters{
		NFS:         nfsAdapter,
		Mount:       mountAdapter,
		portmapHost: cfg.Portmap.HostAddress,
	}

	if !cfg.Portmap.Enabled {
		logger.Info("Portmap disabled: clients must be given explicit mount and nfs ports")
		return a, nil
	}

	if cfg.Portmap.UseHost {
		// Mappings are filled in by Register once ports are known.
		a.Registrar = portmap.NewHostRegistrar(cfg.Portmap.HostAddress, nil)
		return a, nil
	}

	// The portmapper listener shares the nfs adapter's limits.
	pmapCfg := cfg.Adapters.NFS
	pmapCfg.Bind = cfg.Portmap.Bind
	pmapCfg.Port = cfg.Portmap.Port

	a.Service = portmap.NewService()
	a.Portmap, err = nfsadapter.New("PORTMAP", pmapCfg,
		[]*nfs.Program{a.Service.Program()}, nfsMetrics)
	if err != nil {
		return nil, fmt.Errorf("portmap adapter: %w", err)
	}
	return a, nil
}

// List returns the adapters in start order. Stop runs in reverse, so the
// portmapper goes away last.
func (a *Adapters) List() []adapter.Adapter {
	list := make([]adapter.Adapter, 0, 3)
	if a.Portmap != nil {
		list = append(list, a.Portmap)
	}
	return append(list, a.Mount, a.NFS)
}

// Mappings returns the portmap registrations for the bound ports.
func (a *Adapters) Mappings() []portmap.Mapping {
	var pmapPort uint32
	if a.Portmap != nil {
		pmapPort = uint32(a.Portmap.Port())
	}
	return portmap.DefaultMappings(uint32(a.Mount.Port()), uint32(a.NFS.Port()), pmapPort)
}

// Register publishes the mappings to the embedded service or the host
// portmapper. It is a no-op when portmap is disabled.
func (a *Adapters) Register(ctx context.Context) error {
	mappings := a.Mappings()

	switch {
	case a.Service != nil:
		for _, m := range mappings {
			if !a.Service.Set(m) {
				return fmt.Errorf("portmap: mapping already set: %s", m)
			}
		}
		logger.Info("Embedded portmapper loaded with %d mappings", len(mappings))
		return nil

	case a.Registrar != nil:
		a.Registrar = portmap.NewHostRegistrar(a.portmapHost, mappings)
		return a.Registrar.Register(ctx)
	}
	return nil
}

// Unregister removes host portmapper registrations. The embedded table
// dies with its listener.
func (a *Adapters) Unregister(ctx context.Context) error {
	if a.Registrar == nil {
		return nil
	}
	return a.Registrar.Unregister(ctx)
}
