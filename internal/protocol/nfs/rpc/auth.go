package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// AUTH_UNIX limits from RFC 5531 Appendix A.
const (
	maxMachineNameLen = 255
	maxAuthGIDs       = 16
)

// UnixAuth is the decoded body of an AUTH_UNIX (AUTH_SYS) credential.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// ParseUnixAuth decodes an AUTH_UNIX credential body.
//
// The layout is: stamp, machinename<255>, uid, gid, gids<16>.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty auth body")
	}

	reader := bytes.NewReader(body)
	auth := &UnixAuth{}

	if err := binary.Read(reader, binary.BigEndian, &auth.Stamp); err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}

	var nameLen uint32
	if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("read machine name length: %w", err)
	}
	if nameLen > maxMachineNameLen {
		return nil, fmt.Errorf("machine name too long: %d bytes", nameLen)
	}

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(reader, name); err != nil {
		return nil, fmt.Errorf("read machine name: %w", err)
	}
	auth.MachineName = string(name)

	if pad := XdrPadding(nameLen); pad > 0 {
		if _, err := reader.Seek(int64(pad), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip machine name padding: %w", err)
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &auth.UID); err != nil {
		return nil, fmt.Errorf("read uid: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &auth.GID); err != nil {
		return nil, fmt.Errorf("read gid: %w", err)
	}

	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read gid count: %w", err)
	}
	if count > maxAuthGIDs {
		return nil, fmt.Errorf("too many gids: %d (max %d)", count, maxAuthGIDs)
	}

	auth.GIDs = make([]uint32, count)
	for i := range auth.GIDs {
		if err := binary.Read(reader, binary.BigEndian, &auth.GIDs[i]); err != nil {
			return nil, fmt.Errorf("read gid %d: %w", i, err)
		}
	}

	return auth, nil
}

// String renders the credential for logs.
func (a *UnixAuth) String() string {
	return fmt.Sprintf("UnixAuth{machine=%s uid=%d gid=%d gids=%v}",
		a.MachineName, a.UID, a.GID, a.GIDs)
}
