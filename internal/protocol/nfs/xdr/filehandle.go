package xdr

import (
	"fmt"

	"github.com/google/uuid"
)

// HandleSize is the length of a wire file handle: the raw bytes of the
// UUID the cache allocated for the path.
const HandleSize = 16

// EncodeHandle converts a cache handle to its wire form.
func EncodeHandle(handle string) ([]byte, error) {
	id, err := uuid.Parse(handle)
	if err != nil {
		return nil, fmt.Errorf("encode handle %q: %w", handle, err)
	}
	b := id
	return b[:], nil
}

// DecodeHandle converts a wire file handle back to the cache handle.
func DecodeHandle(fh []byte) (string, error) {
	if len(fh) != HandleSize {
		return "", fmt.Errorf("bad handle length %d (want %d)", len(fh), HandleSize)
	}
	id, err := uuid.FromBytes(fh)
	if err != nil {
		return "", fmt.Errorf("decode handle: %w", err)
	}
	return id.String(), nil
}
