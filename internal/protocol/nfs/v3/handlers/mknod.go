package handlers

import (
	"bytes"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// MknodRequest is the diropargs3 part of MKNOD3args.
type MknodRequest struct {
	DirHandle []byte
	Name      string
}

// MknodResponse is the failure arm of MKNOD3res.
type MknodResponse struct {
	NFSResponseBase
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// Mknod is not supported: objects are files or directories only
// (RFC 1813 Section 3.3.11).
func (h *Handler) Mknod(ctx *NFSHandlerContext, req *MknodRequest) (*MknodResponse, error) {
	logger.Info("MKNOD: dir=%x name=%q client=%s (not supported)",
		req.DirHandle, req.Name, xdr.ExtractClientIP(ctx.GetClientAddr()))
	return &MknodResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSupp}}, nil
}

// DecodeMknodRequest decodes the leading diropargs3 of MKNOD3args.
func DecodeMknodRequest(data []byte) (*MknodRequest, error) {
	handle, name, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &MknodRequest{DirHandle: handle, Name: name}, nil
}

// Encode serializes MKNOD3res.
func (resp *MknodResponse) Encode() ([]byte, error) {
	return encodeDirWcc(resp.Status, resp.DirBefore, resp.DirAfter)
}
