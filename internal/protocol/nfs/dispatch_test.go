package nfs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mount "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/mount/handlers"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/rpc"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	nfs3 "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/v3/handlers"
)

type fakeResponse struct {
	body []byte
	err  error
}

func (r fakeResponse) Encode() ([]byte, error) { return r.body, r.err }

func TestHandleRequest(t *testing.T) {
	decodeOK := func(b []byte) (int, error) { return len(b), nil }

	t.Run("Success", func(t *testing.T) {
		out, err := handleRequest([]byte{1, 2, 3}, decodeOK, func(n int) (fakeResponse, error) {
			return fakeResponse{body: []byte{byte(n)}}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []byte{3}, out)
	})

	t.Run("DecodeFailureIsGarbage", func(t *testing.T) {
		_, err := handleRequest(nil, func([]byte) (int, error) { return 0, errors.New("short") },
			func(int) (fakeResponse, error) { return fakeResponse{}, nil })
		assert.ErrorIs(t, err, ErrGarbageArgs)
	})

	t.Run("HandlerErrorPassesThrough", func(t *testing.T) {
		_, err := handleRequest(nil, decodeOK, func(int) (fakeResponse, error) {
			return fakeResponse{}, context.Canceled
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrGarbageArgs)
	})

	t.Run("EncodeFailure", func(t *testing.T) {
		_, err := handleRequest(nil, decodeOK, func(int) (fakeResponse, error) {
			return fakeResponse{err: errors.New("too big")}, nil
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrGarbageArgs)
	})
}

func TestPrograms(t *testing.T) {
	nfsProg := NewNFSProgram(&nfs3.Handler{})
	assert.Equal(t, uint32(rpc.ProgramNFS), nfsProg.Number)
	assert.True(t, nfsProg.Supports(3))
	assert.False(t, nfsProg.Supports(2))
	assert.False(t, nfsProg.Supports(4))
	assert.Len(t, nfsProg.Procedures, 22)
	assert.Equal(t, "GETATTR", nfsProg.MetricName(nfsProg.Procedures[types.NFSProcGetAttr]))

	mountProg := NewMountProgram(&mount.Handler{})
	assert.Equal(t, uint32(rpc.ProgramMount), mountProg.Number)
	for v := uint32(1); v <= 3; v++ {
		assert.True(t, mountProg.Supports(v))
	}
	assert.False(t, mountProg.Supports(4))
	assert.Len(t, mountProg.Procedures, 6)
	assert.Equal(t, "MOUNT_MNT", mountProg.MetricName(mountProg.Procedures[mount.MountProcMnt]))
}

func TestExtractAuthContext(t *testing.T) {
	call := &rpc.RPCCallMessage{
		Version: 3,
		Cred:    rpc.OpaqueAuth{Flavor: rpc.AuthNull},
	}
	authCtx := ExtractAuthContext(context.Background(), call, "10.0.0.1:700", "NULL")
	assert.Equal(t, rpc.AuthNull, authCtx.AuthFlavor)
	assert.Equal(t, uint32(3), authCtx.Version)
	assert.Nil(t, authCtx.UID)

	// AUTH_UNIX with an unparsable body still yields a usable context.
	call.Cred = rpc.OpaqueAuth{Flavor: rpc.AuthUnix, Body: []byte{0, 0}}
	authCtx = ExtractAuthContext(context.Background(), call, "10.0.0.1:700", "NULL")
	assert.Equal(t, rpc.AuthUnix, authCtx.AuthFlavor)
	assert.Nil(t, authCtx.UID)
	assert.Equal(t, "10.0.0.1:700", authCtx.mountContext().ClientAddr)
}
