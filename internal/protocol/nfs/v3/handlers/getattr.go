package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// GetAttrRequest is GETATTR3args.
type GetAttrRequest struct {
	Handle []byte
}

// GetAttrResponse is GETATTR3res. Attr is only encoded on success.
type GetAttrResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr
}

// GetAttr returns the attributes of an object (RFC 1813 Section 3.3.1).
//
// Stages: resolve the handle, stat the object (a directory miss
// materializes its listing, a file miss is answered from remote metadata),
// reply.
func (h *Handler) GetAttr(ctx *NFSHandlerContext, req *GetAttrRequest) (*GetAttrResponse, error) {
	c := h.newCall(ctx, "GETATTR")
	logger.Info("GETATTR: handle=%x client=%s", req.Handle, c.clientIP)

	resp := &GetAttrResponse{}
	if !c.run(h.resolveObject(req.Handle), h.statObject) {
		if c.err != nil {
			return nil, c.err
		}
		resp.Status = c.status
		return resp, nil
	}

	resp.Attr = nfsAttr(c.attr)
	logger.Debug("GETATTR: %s size=%d dir=%v", c.path, c.attr.Size, c.attr.IsDir)
	return resp, nil
}

// DecodeGetAttrRequest decodes GETATTR3args.
func DecodeGetAttrRequest(data []byte) (*GetAttrRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &GetAttrRequest{Handle: handle}, nil
}

// Encode serializes GETATTR3res.
func (resp *GetAttrResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}
	if err := xdr.EncodeFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return buf.Bytes(), nil
}
