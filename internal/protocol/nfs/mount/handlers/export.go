package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	nfsxdr "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// ExportRequest is the empty EXPORT argument.
type ExportRequest struct{}

// ExportEntry is one exportnode. Groups is always empty: exports are
// world-mountable.
type ExportEntry struct {
	Directory string
	Groups    []string
}

// ExportResponse is the exports list.
type ExportResponse struct {
	MountResponseBase
	Entries []ExportEntry
}

// Export lists the export table, or "/" when every path may be mounted.
func (h *Handler) Export(ctx *MountHandlerContext, req *ExportRequest) (*ExportResponse, error) {
	logger.Info("MOUNT EXPORT: client=%s", ctx.ClientAddr)

	resp := &ExportResponse{}
	for _, p := range h.reg.Exports() {
		resp.Entries = append(resp.Entries, ExportEntry{Directory: p})
	}
	return resp, nil
}

// DecodeExportRequest ignores any payload.
func DecodeExportRequest(data []byte) (*ExportRequest, error) {
	return &ExportRequest{}, nil
}

// Encode serializes the exports list: each exportnode carries the
// directory and a nested groups list.
func (resp *ExportResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	for _, e := range resp.Entries {
		if err := nfsxdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if err := nfsxdr.EncodeString(&buf, e.Directory); err != nil {
			return nil, fmt.Errorf("encode directory: %w", err)
		}
		for _, g := range e.Groups {
			if err := nfsxdr.WriteBool(&buf, true); err != nil {
				return nil, err
			}
			if err := nfsxdr.EncodeString(&buf, g); err != nil {
				return nil, fmt.Errorf("encode group: %w", err)
			}
		}
		if err := nfsxdr.WriteBool(&buf, false); err != nil {
			return nil, err
		}
	}
	if err := nfsxdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
