package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// RenameRequest is RENAME3args.
type RenameRequest struct {
	FromDirHandle []byte
	FromName      string
	ToDirHandle   []byte
	ToName        string
}

// RenameResponse is RENAME3res: wcc_data for both directories.
type RenameResponse struct {
	NFSResponseBase
	FromDirBefore *types.WccAttr
	FromDirAfter  *types.NFSFileAttr
	ToDirBefore   *types.WccAttr
	ToDirAfter    *types.NFSFileAttr
}

// Rename is not supported: the object store has no atomic rename
// (RFC 1813 Section 3.3.14).
func (h *Handler) Rename(ctx *NFSHandlerContext, req *RenameRequest) (*RenameResponse, error) {
	logger.Info("RENAME: from=%x/%q to=%x/%q client=%s (not supported)",
		req.FromDirHandle, req.FromName, req.ToDirHandle, req.ToName, xdr.ExtractClientIP(ctx.GetClientAddr()))
	return &RenameResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSupp}}, nil
}

// DecodeRenameRequest decodes RENAME3args.
func DecodeRenameRequest(data []byte) (*RenameRequest, error) {
	reader := bytes.NewReader(data)

	from, fromName, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode from: %w", err)
	}
	to, toName, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode to: %w", err)
	}
	return &RenameRequest{FromDirHandle: from, FromName: fromName, ToDirHandle: to, ToName: toName}, nil
}

// Encode serializes RENAME3res.
func (resp *RenameResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.FromDirBefore, resp.FromDirAfter); err != nil {
		return nil, fmt.Errorf("encode from wcc: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.ToDirBefore, resp.ToDirAfter); err != nil {
		return nil, fmt.Errorf("encode to wcc: %w", err)
	}
	return buf.Bytes(), nil
}
