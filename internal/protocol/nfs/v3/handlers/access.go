package handlers

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// AccessRequest is ACCESS3args.
type AccessRequest struct {
	Handle []byte
	Access uint32
}

// AccessResponse is ACCESS3res.
type AccessResponse struct {
	NFSResponseBase
	Attr   *types.NFSFileAttr
	Access uint32
}

// Access reports permissions (RFC 1813 Section 3.3.4). The gateway does no
// access control of its own, so every right is granted.
func (h *Handler) Access(ctx *NFSHandlerContext, req *AccessRequest) (*AccessResponse, error) {
	c := h.newCall(ctx, "ACCESS")
	logger.Info("ACCESS: handle=%x access=0x%x client=%s", req.Handle, req.Access, c.clientIP)

	resp := &AccessResponse{}
	if !c.run(h.resolveObject(req.Handle), h.statObject) {
		if c.err != nil {
			return nil, c.err
		}
		resp.Status = c.status
		return resp, nil
	}

	resp.Attr = nfsAttr(c.attr)
	resp.Access = types.AccessAll
	return resp, nil
}

// DecodeAccessRequest decodes ACCESS3args.
func DecodeAccessRequest(data []byte) (*AccessRequest, error) {
	reader := bytes.NewReader(data)
	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	req := &AccessRequest{Handle: handle}
	if err := binary.Read(reader, binary.BigEndian, &req.Access); err != nil {
		return nil, fmt.Errorf("read access: %w", err)
	}
	return req, nil
}

// Encode serializes ACCESS3res.
func (resp *AccessResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status == types.NFS3OK {
		if err := xdr.WriteUint32(&buf, resp.Access); err != nil {
			return nil, fmt.Errorf("write access: %w", err)
		}
	}
	return buf.Bytes(), nil
}
