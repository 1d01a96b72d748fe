package portmap_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeldovich/go-rpcgen/rfc1057"
	rpcxdr "github.com/zeldovich/go-rpcgen/xdr"

	nfs "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/rpc"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/portmap"
	adapter "github.com/TritonDataCenter/manta-nfs/pkg/adapter/nfs"
)

func TestDefaultMappings(t *testing.T) {
	m := portmap.DefaultMappings(1892, 2049, 111)
	require.Len(t, m, 4)
	assert.Equal(t, portmap.Mapping{Prog: 100005, Vers: 3, Prot: 6, Port: 1892}, m[0])
	assert.Equal(t, portmap.Mapping{Prog: 100005, Vers: 1, Prot: 6, Port: 1892}, m[1])
	assert.Equal(t, portmap.Mapping{Prog: 100003, Vers: 3, Prot: 6, Port: 2049}, m[2])
	assert.Equal(t, portmap.Mapping{Prog: 100000, Vers: 2, Prot: 6, Port: 111}, m[3])

	assert.Len(t, portmap.DefaultMappings(1892, 2049, 0), 3)
}

func TestServiceTable(t *testing.T) {
	s := portmap.NewService(portmap.DefaultMappings(1892, 2049, 0)...)

	assert.Equal(t, uint32(2049), s.GetPort(rpc.ProgramNFS, 3, portmap.IPProtoTCP))
	assert.Zero(t, s.GetPort(rpc.ProgramNFS, 3, portmap.IPProtoUDP))
	assert.Zero(t, s.GetPort(rpc.ProgramNFS, 4, portmap.IPProtoTCP))

	// A second SET of the same prog/vers/prot is refused.
	assert.False(t, s.Set(portmap.Mapping{Prog: rpc.ProgramNFS, Vers: 3, Prot: portmap.IPProtoTCP, Port: 9999}))
	assert.True(t, s.Set(portmap.Mapping{Prog: rpc.ProgramNFS, Vers: 3, Prot: portmap.IPProtoUDP, Port: 2049}))

	// UNSET drops every protocol.
	assert.True(t, s.Unset(rpc.ProgramNFS, 3))
	assert.False(t, s.Unset(rpc.ProgramNFS, 3))
	assert.Zero(t, s.GetPort(rpc.ProgramNFS, 3, portmap.IPProtoUDP))

	dump := s.Dump()
	require.Len(t, dump, 2)
	assert.Equal(t, uint32(1), dump[0].Vers)
	assert.Equal(t, uint32(3), dump[1].Vers)
}

func TestProgramDump(t *testing.T) {
	s := portmap.NewService(portmap.Mapping{Prog: 100003, Vers: 3, Prot: 6, Port: 2049})
	prog := s.Program()

	out, err := prog.Procedures[portmap.ProcDump].Handler(&nfs.AuthContext{Context: context.Background()}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0, 0, 0, 1,
		0, 0x01, 0x86, 0xa3,
		0, 0, 0, 3,
		0, 0, 0, 6,
		0, 0, 0x08, 0x01,
		0, 0, 0, 0,
	}, out)
}

func TestProgramGarbageArgs(t *testing.T) {
	prog := portmap.NewService().Program()
	_, err := prog.Procedures[portmap.ProcGetPort].Handler(&nfs.AuthContext{Context: context.Background()}, []byte{0, 0})
	assert.ErrorIs(t, err, nfs.ErrGarbageArgs)
}

// startPortmapper serves s on a loopback port and returns its address.
func startPortmapper(t *testing.T, s *portmap.Service) string {
	t.Helper()

	a, err := adapter.New("PORTMAP", adapter.NFSConfig{
		Bind:               "127.0.0.1",
		ShutdownTimeout:    time.Second,
		MetricsLogInterval: -1,
	}, []*nfs.Program{s.Program()}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return fmt.Sprintf("127.0.0.1:%d", a.Port())
}

func TestGetPortOverRPC(t *testing.T) {
	s := portmap.NewService(portmap.DefaultMappings(1892, 2049, 0)...)
	addr := startPortmapper(t, s)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	var cred rfc1057.Opaque_auth
	cred.Flavor = rfc1057.AUTH_NONE
	client := rfc1057.MakeClient(conn, rfc1057.PMAP_PROG, rfc1057.PMAP_VERS)

	arg := rfc1057.Mapping{Prog: rpc.ProgramMount, Vers: 3, Prot: rfc1057.IPPROTO_TCP}
	var res rpcxdr.Uint32
	require.NoError(t, client.Call(rfc1057.PMAPPROC_GETPORT, cred, cred, &arg, &res))
	assert.Equal(t, uint32(1892), uint32(res))
}

func TestHostRegistrar(t *testing.T) {
	s := portmap.NewService()
	// A stale entry from an earlier run on a different port.
	require.True(t, s.Set(portmap.Mapping{Prog: rpc.ProgramNFS, Vers: 3, Prot: portmap.IPProtoTCP, Port: 5555}))

	addr := startPortmapper(t, s)
	reg := portmap.NewHostRegistrar(addr, portmap.DefaultMappings(1892, 2049, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, reg.Register(ctx))
	assert.Equal(t, uint32(2049), s.GetPort(rpc.ProgramNFS, 3, portmap.IPProtoTCP))
	assert.Equal(t, uint32(1892), s.GetPort(rpc.ProgramMount, 1, portmap.IPProtoTCP))
	assert.Equal(t, uint32(1892), s.GetPort(rpc.ProgramMount, 3, portmap.IPProtoTCP))

	require.NoError(t, reg.Unregister(ctx))
	assert.Empty(t, s.Dump())
}

func TestHostRegistrarUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	reg := portmap.NewHostRegistrar(addr, portmap.DefaultMappings(1892, 2049, 0))
	assert.Error(t, reg.Register(context.Background()))
	assert.Error(t, reg.Unregister(context.Background()))
}
