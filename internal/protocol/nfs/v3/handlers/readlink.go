package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// ReadLinkRequest is READLINK3args.
type ReadLinkRequest struct {
	Handle []byte
}

// ReadLinkResponse is READLINK3res. Only the failure arm is ever sent.
type ReadLinkResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr
}

// ReadLink is not supported: the remote store has no symbolic links
// (RFC 1813 Section 3.3.5).
func (h *Handler) ReadLink(ctx *NFSHandlerContext, req *ReadLinkRequest) (*ReadLinkResponse, error) {
	logger.Info("READLINK: handle=%x client=%s (not supported)", req.Handle, xdr.ExtractClientIP(ctx.GetClientAddr()))
	return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSupp}}, nil
}

// DecodeReadLinkRequest decodes READLINK3args.
func DecodeReadLinkRequest(data []byte) (*ReadLinkRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &ReadLinkRequest{Handle: handle}, nil
}

// Encode serializes READLINK3res.
func (resp *ReadLinkResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return buf.Bytes(), nil
}
