package xdr

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
)

// maxOpaqueLength bounds any variable-length field. WRITE payloads are
// capped at 1MB by FSINFO so nothing legitimate is larger.
const maxOpaqueLength = 1024 * 1024

// DecodeOpaque decodes XDR variable-length opaque data.
//
// Per RFC 4506 Section 4.10:
// Format: [length:uint32][data:length bytes][padding:0-3 bytes]
func DecodeOpaque(reader io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	if length > maxOpaqueLength {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d", length, maxOpaqueLength)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	// Example: length=5 → padding=3, length=8 → padding=0
	padding := (4 - (length % 4)) % 4
	if padding > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(padding)); err != nil {
			return nil, fmt.Errorf("skip padding: %w", err)
		}
	}

	return data, nil
}

// DecodeString decodes an XDR string (same layout as opaque data).
func DecodeString(reader io.Reader) (string, error) {
	data, err := DecodeOpaque(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeFileHandle decodes an nfs_fh3. Handles longer than NFS3_FHSIZE or
// empty handles are rejected.
func DecodeFileHandle(reader io.Reader) ([]byte, error) {
	handle, err := DecodeOpaque(reader)
	if err != nil {
		return nil, fmt.Errorf("decode handle: %w", err)
	}
	if len(handle) == 0 {
		return nil, fmt.Errorf("invalid handle length: 0 (must be > 0)")
	}
	if len(handle) > types.FHSize3 {
		return nil, fmt.Errorf("invalid handle length: %d (max %d)", len(handle), types.FHSize3)
	}
	return handle, nil
}

// DecodeTimeVal decodes an nfstime3.
func DecodeTimeVal(reader io.Reader) (types.TimeVal, error) {
	var tv types.TimeVal
	if err := binary.Read(reader, binary.BigEndian, &tv.Seconds); err != nil {
		return tv, fmt.Errorf("read seconds: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &tv.Nseconds); err != nil {
		return tv, fmt.Errorf("read nseconds: %w", err)
	}
	return tv, nil
}

// DecodeSetAttrs decodes an sattr3.
//
// Per RFC 1813 Section 2.5.3:
//
//	struct sattr3 {
//	    set_mode3   mode;    // [set:uint32][mode:uint32]
//	    set_uid3    uid;     // [set:uint32][uid:uint32]
//	    set_gid3    gid;     // [set:uint32][gid:uint32]
//	    set_size3   size;    // [set:uint32][size:uint64]
//	    set_atime   atime;   // [how:uint32][time:nfstime3 if how=2]
//	    set_mtime   mtime;   // [how:uint32][time:nfstime3 if how=2]
//	};
//
// The time fields use time_how: DONT_CHANGE (0), SET_TO_SERVER_TIME (1)
// with no payload, and SET_TO_CLIENT_TIME (2) followed by an nfstime3.
func DecodeSetAttrs(reader io.Reader) (*types.SetAttrs, error) {
	attr := &types.SetAttrs{}

	var err error
	if attr.Mode, err = decodeOptionalUint32(reader, "mode"); err != nil {
		return nil, err
	}
	if attr.UID, err = decodeOptionalUint32(reader, "uid"); err != nil {
		return nil, err
	}
	if attr.GID, err = decodeOptionalUint32(reader, "gid"); err != nil {
		return nil, err
	}

	var setSize uint32
	if err := binary.Read(reader, binary.BigEndian, &setSize); err != nil {
		return nil, fmt.Errorf("read set_size: %w", err)
	}
	if setSize == 1 {
		var size uint64
		if err := binary.Read(reader, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("read size: %w", err)
		}
		attr.Size = &size
	}

	if attr.AtimeHow, attr.Atime, err = decodeSetTime(reader, "atime"); err != nil {
		return nil, err
	}
	if attr.MtimeHow, attr.Mtime, err = decodeSetTime(reader, "mtime"); err != nil {
		return nil, err
	}

	return attr, nil
}

func decodeOptionalUint32(reader io.Reader, field string) (*uint32, error) {
	var set uint32
	if err := binary.Read(reader, binary.BigEndian, &set); err != nil {
		return nil, fmt.Errorf("read set_%s: %w", field, err)
	}
	if set != 1 {
		return nil, nil
	}
	var v uint32
	if err := binary.Read(reader, binary.BigEndian, &v); err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return &v, nil
}

func decodeSetTime(reader io.Reader, field string) (uint32, types.TimeVal, error) {
	var how uint32
	if err := binary.Read(reader, binary.BigEndian, &how); err != nil {
		return 0, types.TimeVal{}, fmt.Errorf("read set_%s: %w", field, err)
	}

	switch how {
	case types.TimeDontChange, types.TimeSetToServer:
		return how, types.TimeVal{}, nil
	case types.TimeSetToClientTime:
		tv, err := DecodeTimeVal(reader)
		if err != nil {
			return 0, types.TimeVal{}, fmt.Errorf("read %s: %w", field, err)
		}
		return how, tv, nil
	default:
		return 0, types.TimeVal{}, fmt.Errorf("invalid time_how %d for %s", how, field)
	}
}
