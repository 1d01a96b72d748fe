package handlers

import (
	"bytes"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// SymlinkRequest is the diropargs3 part of SYMLINK3args. The link data is
// not decoded.
type SymlinkRequest struct {
	DirHandle []byte
	Name      string
}

// SymlinkResponse is the failure arm of SYMLINK3res.
type SymlinkResponse struct {
	NFSResponseBase
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// Symlink is not supported (RFC 1813 Section 3.3.10).
func (h *Handler) Symlink(ctx *NFSHandlerContext, req *SymlinkRequest) (*SymlinkResponse, error) {
	logger.Info("SYMLINK: dir=%x name=%q client=%s (not supported)",
		req.DirHandle, req.Name, xdr.ExtractClientIP(ctx.GetClientAddr()))
	return &SymlinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSupp}}, nil
}

// DecodeSymlinkRequest decodes the leading diropargs3 of SYMLINK3args.
func DecodeSymlinkRequest(data []byte) (*SymlinkRequest, error) {
	handle, name, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &SymlinkRequest{DirHandle: handle, Name: name}, nil
}

// Encode serializes SYMLINK3res.
func (resp *SymlinkResponse) Encode() ([]byte, error) {
	return encodeDirWcc(resp.Status, resp.DirBefore, resp.DirAfter)
}
