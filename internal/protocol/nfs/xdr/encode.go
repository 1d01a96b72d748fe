package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
)

// ============================================================================
// XDR Encoding Helpers - Go Structures → Wire Format
// ============================================================================

// WriteUint32 appends a big-endian uint32.
func WriteUint32(buf *bytes.Buffer, v uint32) error {
	return binary.Write(buf, binary.BigEndian, v)
}

// WriteUint64 appends a big-endian uint64.
func WriteUint64(buf *bytes.Buffer, v uint64) error {
	return binary.Write(buf, binary.BigEndian, v)
}

// WriteBool appends an XDR bool (uint32 0 or 1).
func WriteBool(buf *bytes.Buffer, v bool) error {
	if v {
		return WriteUint32(buf, 1)
	}
	return WriteUint32(buf, 0)
}

// EncodeOpaque appends variable-length opaque data with its length prefix
// and zero padding to a 4-byte boundary.
func EncodeOpaque(buf *bytes.Buffer, data []byte) error {
	length := uint32(len(data))
	if err := WriteUint32(buf, length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := buf.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	padding := (4 - (length % 4)) % 4
	for range padding {
		if err := buf.WriteByte(0); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
	}
	return nil
}

// EncodeString appends an XDR string.
func EncodeString(buf *bytes.Buffer, s string) error {
	return EncodeOpaque(buf, []byte(s))
}

// EncodeOptionalOpaque encodes an optional opaque value (post_op_fh3 and
// friends). Empty data is encoded as "not present".
func EncodeOptionalOpaque(buf *bytes.Buffer, data []byte) error {
	if len(data) == 0 {
		return WriteUint32(buf, 0)
	}
	if err := WriteUint32(buf, 1); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}
	return EncodeOpaque(buf, data)
}

// EncodeOptionalFileAttr encodes post_op_attr: a present flag followed by
// fattr3 when attr is non-nil.
func EncodeOptionalFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		return WriteUint32(buf, 0)
	}
	if err := WriteUint32(buf, 1); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}
	return EncodeFileAttr(buf, attr)
}

// EncodeWccData encodes wcc_data: optional pre-op wcc_attr then optional
// post-op fattr3.
func EncodeWccData(buf *bytes.Buffer, before *types.WccAttr, after *types.NFSFileAttr) error {
	if before == nil {
		if err := WriteUint32(buf, 0); err != nil {
			return fmt.Errorf("write before not present: %w", err)
		}
	} else {
		if err := WriteUint32(buf, 1); err != nil {
			return fmt.Errorf("write before present: %w", err)
		}
		if err := encodeWccAttr(buf, before); err != nil {
			return fmt.Errorf("encode before attributes: %w", err)
		}
	}

	if err := EncodeOptionalFileAttr(buf, after); err != nil {
		return fmt.Errorf("encode after attributes: %w", err)
	}
	return nil
}

func encodeWccAttr(buf *bytes.Buffer, attr *types.WccAttr) error {
	if err := WriteUint64(buf, attr.Size); err != nil {
		return fmt.Errorf("write size: %w", err)
	}
	if err := EncodeTimeVal(buf, attr.Mtime); err != nil {
		return fmt.Errorf("write mtime: %w", err)
	}
	if err := EncodeTimeVal(buf, attr.Ctime); err != nil {
		return fmt.Errorf("write ctime: %w", err)
	}
	return nil
}

// EncodeTimeVal appends an nfstime3.
func EncodeTimeVal(buf *bytes.Buffer, tv types.TimeVal) error {
	if err := WriteUint32(buf, tv.Seconds); err != nil {
		return err
	}
	return WriteUint32(buf, tv.Nseconds)
}

// EncodeFileAttr encodes fattr3 (RFC 1813 Section 2.5), 84 bytes on the wire.
func EncodeFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		return fmt.Errorf("file attributes are nil")
	}

	fields := []struct {
		name  string
		value any
	}{
		{"type", attr.Type},
		{"mode", attr.Mode},
		{"nlink", attr.Nlink},
		{"uid", attr.UID},
		{"gid", attr.GID},
		{"size", attr.Size},
		{"used", attr.Used},
		{"rdev", attr.Rdev},
		{"fsid", attr.Fsid},
		{"fileid", attr.Fileid},
		{"atime", attr.Atime},
		{"mtime", attr.Mtime},
		{"ctime", attr.Ctime},
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.BigEndian, f.value); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}
