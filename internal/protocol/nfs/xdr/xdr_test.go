package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/pkg/cache"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
	"github.com/TritonDataCenter/manta-nfs/pkg/vfs"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func validFileAttr() *types.NFSFileAttr {
	now := TimeToTimeVal(time.Now())
	return &types.NFSFileAttr{
		Type:   types.FileTypeRegular,
		Mode:   0644,
		Nlink:  1,
		UID:    1000,
		GID:    1000,
		Size:   1024,
		Used:   4096,
		Fsid:   1,
		Fileid: 12345,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}
}

func validWccAttr() *types.WccAttr {
	now := TimeToTimeVal(time.Now())
	return &types.WccAttr{Size: 1024, Mtime: now, Ctime: now}
}

func putUint32s(buf *bytes.Buffer, vs ...uint32) {
	for _, v := range vs {
		_ = binary.Write(buf, binary.BigEndian, v)
	}
}

// ============================================================================
// Encoding
// ============================================================================

func TestEncodeOptionalOpaque(t *testing.T) {
	t.Run("EncodesEmptyAsNotPresent", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeOptionalOpaque(buf, nil))
		assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())
	})

	t.Run("EncodesWithProperPadding", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeOptionalOpaque(buf, []byte{0x01, 0x02, 0x03}))

		expected := []byte{
			0, 0, 0, 1, // present flag
			0, 0, 0, 3, // length
			0x01, 0x02, 0x03, 0, // data + 1 byte padding
		}
		assert.Equal(t, expected, buf.Bytes())
	})
}

func TestEncodeFileAttrSize(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, EncodeFileAttr(buf, validFileAttr()))
	assert.Equal(t, 84, buf.Len())

	assert.Equal(t, uint32(types.FileTypeRegular), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
	assert.Equal(t, uint64(1024), binary.BigEndian.Uint64(buf.Bytes()[20:28]))
	assert.Equal(t, uint64(12345), binary.BigEndian.Uint64(buf.Bytes()[52:60]))

	require.Error(t, EncodeFileAttr(new(bytes.Buffer), nil))
}

func TestEncodeOptionalFileAttr(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, EncodeOptionalFileAttr(buf, nil))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())

	buf.Reset()
	require.NoError(t, EncodeOptionalFileAttr(buf, validFileAttr()))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
	assert.Equal(t, 88, buf.Len())
}

func TestEncodeWccData(t *testing.T) {
	t.Run("Neither", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeWccData(buf, nil, nil))
		assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, buf.Bytes())
	})

	t.Run("Both", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeWccData(buf, validWccAttr(), validFileAttr()))
		// 4 + 24 (wcc_attr) + 4 + 84 (fattr3)
		assert.Equal(t, 116, buf.Len())
	})
}

// ============================================================================
// Decoding
// ============================================================================

func TestDecodeOpaque(t *testing.T) {
	t.Run("DecodesOpaqueWithPadding", func(t *testing.T) {
		buf := new(bytes.Buffer)
		putUint32s(buf, 3)
		_, _ = buf.Write([]byte{0x01, 0x02, 0x03, 0x00})
		putUint32s(buf, 0xdeadbeef)

		data, err := DecodeOpaque(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)

		var next uint32
		require.NoError(t, binary.Read(buf, binary.BigEndian, &next))
		assert.Equal(t, uint32(0xdeadbeef), next)
	})

	t.Run("RejectsExcessiveLength", func(t *testing.T) {
		buf := new(bytes.Buffer)
		putUint32s(buf, 2*1024*1024)

		_, err := DecodeOpaque(buf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds maximum")
	})

	t.Run("ShortRead", func(t *testing.T) {
		buf := new(bytes.Buffer)
		putUint32s(buf, 8)
		_, _ = buf.Write([]byte{1, 2})

		_, err := DecodeOpaque(buf)
		require.Error(t, err)
	})
}

func TestDecodeString(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, EncodeString(buf, "hello"))

	str, err := DecodeString(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", str)
	assert.Zero(t, buf.Len())
}

func TestDecodeFileHandle(t *testing.T) {
	buf := new(bytes.Buffer)
	putUint32s(buf, 0)
	_, err := DecodeFileHandle(buf)
	require.Error(t, err)

	buf.Reset()
	require.NoError(t, EncodeOpaque(buf, make([]byte, 65)))
	_, err = DecodeFileHandle(buf)
	require.Error(t, err)

	buf.Reset()
	require.NoError(t, EncodeOpaque(buf, make([]byte, 16)))
	fh, err := DecodeFileHandle(buf)
	require.NoError(t, err)
	assert.Len(t, fh, 16)
}

func TestDecodeSetAttrs(t *testing.T) {
	t.Run("NothingSet", func(t *testing.T) {
		buf := new(bytes.Buffer)
		putUint32s(buf, 0, 0, 0, 0, 0, 0)

		attrs, err := DecodeSetAttrs(buf)
		require.NoError(t, err)
		assert.Nil(t, attrs.Mode)
		assert.Nil(t, attrs.Size)
		assert.False(t, attrs.ChangesTime())
		assert.False(t, attrs.ChangesOwnership())
	})

	t.Run("SizeAndMode", func(t *testing.T) {
		buf := new(bytes.Buffer)
		putUint32s(buf, 1, 0600, 0, 0, 1)
		_ = binary.Write(buf, binary.BigEndian, uint64(42))
		putUint32s(buf, 0, 0)

		attrs, err := DecodeSetAttrs(buf)
		require.NoError(t, err)
		require.NotNil(t, attrs.Mode)
		assert.Equal(t, uint32(0600), *attrs.Mode)
		require.NotNil(t, attrs.Size)
		assert.Equal(t, uint64(42), *attrs.Size)
		assert.True(t, attrs.ChangesOwnership())
	})

	t.Run("ServerTimeHasNoPayload", func(t *testing.T) {
		buf := new(bytes.Buffer)
		putUint32s(buf, 0, 0, 0, 0, types.TimeSetToServer, types.TimeSetToServer)
		putUint32s(buf, 0xcafe)

		attrs, err := DecodeSetAttrs(buf)
		require.NoError(t, err)
		assert.Equal(t, uint32(types.TimeSetToServer), attrs.AtimeHow)
		assert.Equal(t, uint32(types.TimeSetToServer), attrs.MtimeHow)
		assert.True(t, attrs.ChangesTime())
		assert.Equal(t, 4, buf.Len(), "trailing word must not be consumed")
	})

	t.Run("ClientTime", func(t *testing.T) {
		buf := new(bytes.Buffer)
		putUint32s(buf, 0, 0, 0, 0, types.TimeDontChange, types.TimeSetToClientTime, 1700000000, 5)

		attrs, err := DecodeSetAttrs(buf)
		require.NoError(t, err)
		assert.Equal(t, uint32(types.TimeSetToClientTime), attrs.MtimeHow)
		assert.Equal(t, types.TimeVal{Seconds: 1700000000, Nseconds: 5}, attrs.Mtime)
	})

	t.Run("BadTimeHow", func(t *testing.T) {
		buf := new(bytes.Buffer)
		putUint32s(buf, 0, 0, 0, 0, 7, 0)

		_, err := DecodeSetAttrs(buf)
		require.Error(t, err)
	})
}

// ============================================================================
// Attributes, handles and errors
// ============================================================================

func TestAttrToNFS(t *testing.T) {
	mtime := time.Unix(1700000000, 123)
	attr := &vfs.Attr{
		Path:       "/stor/a.txt",
		Size:       100,
		Mode:       0644,
		UID:        65534,
		GID:        65534,
		ModTime:    mtime,
		AccessTime: mtime,
		ChangeTime: mtime,
	}

	nfsAttr := AttrToNFS(attr)
	assert.Equal(t, uint32(types.FileTypeRegular), nfsAttr.Type)
	assert.Equal(t, uint32(0644), nfsAttr.Mode)
	assert.Equal(t, uint64(100), nfsAttr.Size)
	assert.Equal(t, FileID("/stor/a.txt"), nfsAttr.Fileid)
	assert.Equal(t, FSID, nfsAttr.Fsid)
	assert.Equal(t, types.TimeVal{Seconds: 1700000000, Nseconds: 123}, nfsAttr.Mtime)

	attr.IsDir = true
	attr.Mode = os.ModeDir | 0755
	nfsAttr = AttrToNFS(attr)
	assert.Equal(t, uint32(types.FileTypeDirectory), nfsAttr.Type)
	assert.Equal(t, uint32(0755), nfsAttr.Mode)
	assert.Equal(t, uint32(2), nfsAttr.Nlink)

	assert.Nil(t, AttrToNFS(nil))
	assert.Nil(t, CaptureWccAttr(nil))
	assert.Equal(t, uint64(100), CaptureWccAttr(attr).Size)
}

func TestFileIDStable(t *testing.T) {
	assert.Equal(t, FileID("/stor/x"), FileID("/stor/x"))
	assert.NotEqual(t, FileID("/stor/x"), FileID("/stor/y"))
}

func TestHandleRoundTrip(t *testing.T) {
	id := uuid.NewString()

	fh, err := EncodeHandle(id)
	require.NoError(t, err)
	assert.Len(t, fh, HandleSize)

	back, err := DecodeHandle(fh)
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = DecodeHandle([]byte{1, 2, 3})
	require.Error(t, err)
	_, err = EncodeHandle("not-a-uuid")
	require.Error(t, err)
}

func TestMapErrorToNFSStatus(t *testing.T) {
	tests := []struct {
		err  error
		want uint32
	}{
		{nil, types.NFS3OK},
		{syscall.ENOENT, types.NFS3ErrNoEnt},
		{fmt.Errorf("stat: %w", os.ErrNotExist), types.NFS3ErrNoEnt},
		{cache.ErrFileNotCached, types.NFS3ErrNoEnt},
		{fmt.Errorf("info /x: %w", remote.ErrNotFound), types.NFS3ErrNoEnt},
		{syscall.ENOTDIR, types.NFS3ErrNotDir},
		{remote.ErrNotEmpty, types.NFS3ErrNotEmpty},
		{syscall.EACCES, types.NFS3ErrAcces},
		{os.ErrPermission, types.NFS3ErrAcces},
		{syscall.EEXIST, types.NFS3ErrExist},
		{syscall.EISDIR, types.NFS3ErrIsDir},
		{cache.ErrNotEnoughSpace, types.NFS3ErrNoSpc},
		{cache.ErrUnknownHandle, types.NFS3ErrStale},
		{cache.ErrWriteInProgress, types.NFS3ErrServerFault},
		{fmt.Errorf("boom"), types.NFS3ErrServerFault},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapErrorToNFSStatus(tt.err, "127.0.0.1", "TEST"), "%v", tt.err)
	}
}

func TestExtractClientIP(t *testing.T) {
	assert.Equal(t, "192.168.1.100", ExtractClientIP("192.168.1.100:45678"))
	assert.Equal(t, "::1", ExtractClientIP("[::1]:2049"))
	assert.Equal(t, "10.0.0.1", ExtractClientIP("10.0.0.1"))
	assert.Equal(t, "unknown", ExtractClientIP(""))
}
