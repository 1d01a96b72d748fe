package portmap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/zeldovich/go-rpcgen/rfc1057"
	rpcxdr "github.com/zeldovich/go-rpcgen/xdr"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
)

// DefaultHostAddr is the host portmapper on the loopback interface.
var DefaultHostAddr = fmt.Sprintf("127.0.0.1:%d", rfc1057.PMAP_PORT)

// HostRegistrar registers mappings with an existing portmapper (rpcbind)
// over TCP, one connection per call.
type HostRegistrar struct {
	addr        string
	dialTimeout time.Duration
	mappings    []Mapping
}

// NewHostRegistrar returns a registrar for mappings at addr. An empty addr
// means DefaultHostAddr.
func NewHostRegistrar(addr string, mappings []Mapping) *HostRegistrar {
	if addr == "" {
		addr = DefaultHostAddr
	}
	return &HostRegistrar{
		addr:        addr,
		dialTimeout: 5 * time.Second,
		mappings:    mappings,
	}
}

// Register clears any stale registration of each mapping and sets it
// again. It stops at the first mapping the portmapper refuses.
func (r *HostRegistrar) Register(ctx context.Context) error {
	for _, m := range r.mappings {
		if err := ctx.Err(); err != nil {
			return err
		}

		// A leftover entry from a previous run would make SET fail.
		if _, err := r.call(ctx, rfc1057.PMAPPROC_UNSET, m); err != nil {
			return fmt.Errorf("unset %s: %w", m, err)
		}

		ok, err := r.call(ctx, rfc1057.PMAPPROC_SET, m)
		if err != nil {
			return fmt.Errorf("set %s: %w", m, err)
		}
		if !ok {
			return fmt.Errorf("portmapper at %s refused %s; is the program already registered?", r.addr, m)
		}
		logger.Info("Registered with portmapper at %s: %s", r.addr, m)
	}
	return nil
}

// Unregister removes every mapping. Failures are logged and the remaining
// mappings are still attempted; the first error is returned.
func (r *HostRegistrar) Unregister(ctx context.Context) error {
	var firstErr error
	for _, m := range r.mappings {
		ok, err := r.call(ctx, rfc1057.PMAPPROC_UNSET, m)
		if err != nil {
			logger.Warn("Unable to unregister %s from the portmapper: %v", m, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("unset %s: %w", m, err)
			}
			continue
		}
		logger.Debug("Unregistered from portmapper: %s (removed=%v)", m, ok)
	}
	return firstErr
}

func (r *HostRegistrar) call(ctx context.Context, proc uint32, m Mapping) (bool, error) {
	dialer := net.Dialer{Timeout: r.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(r.dialTimeout))
	}

	var cred rfc1057.Opaque_auth
	cred.Flavor = rfc1057.AUTH_NONE

	client := rfc1057.MakeClient(conn, rfc1057.PMAP_PROG, rfc1057.PMAP_VERS)
	arg := rfc1057.Mapping{
		Prog: m.Prog,
		Vers: m.Vers,
		Prot: m.Prot,
		Port: m.Port,
	}

	var res rpcxdr.Bool
	if err := client.Call(proc, cred, cred, &arg, &res); err != nil {
		return false, err
	}
	return bool(res), nil
}
