package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	nfsxdr "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// DumpRequest is the empty DUMP argument.
type DumpRequest struct{}

// DumpEntry is one mountbody.
type DumpEntry struct {
	Hostname  string
	Directory string
}

// DumpResponse is the mountlist.
type DumpResponse struct {
	MountResponseBase
	Entries []DumpEntry
}

// Dump lists the mounts recorded by MNT. The list is advisory: clients
// that never call UMNT stay in it until UMNTALL or a restart.
func (h *Handler) Dump(ctx *MountHandlerContext, req *DumpRequest) (*DumpResponse, error) {
	logger.Info("MOUNT DUMP: client=%s", ctx.ClientAddr)

	mounts := h.reg.ListMounts()
	resp := &DumpResponse{Entries: make([]DumpEntry, 0, len(mounts))}
	for _, m := range mounts {
		resp.Entries = append(resp.Entries, DumpEntry{Hostname: m.ClientAddr, Directory: m.Directory})
	}

	logger.Debug("MOUNT DUMP: %d mount(s)", len(resp.Entries))
	return resp, nil
}

// DecodeDumpRequest ignores any payload.
func DecodeDumpRequest(data []byte) (*DumpRequest, error) {
	return &DumpRequest{}, nil
}

// Encode serializes the mountlist as an XDR optional-data linked list.
func (resp *DumpResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	for _, entry := range resp.Entries {
		if err := nfsxdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if err := nfsxdr.EncodeString(&buf, entry.Hostname); err != nil {
			return nil, fmt.Errorf("encode hostname: %w", err)
		}
		if err := nfsxdr.EncodeString(&buf, entry.Directory); err != nil {
			return nil, fmt.Errorf("encode directory: %w", err)
		}
	}
	if err := nfsxdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
