package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// PathConfRequest is PATHCONF3args.
type PathConfRequest struct {
	Handle []byte
}

// PathConfResponse is PATHCONF3res.
type PathConfResponse struct {
	NFSResponseBase
	Attr            *types.NFSFileAttr
	Linkmax         uint32
	NameMax         uint32
	NoTrunc         bool
	ChownRestricted bool
	CaseInsensitive bool
	CasePreserving  bool
}

// PathConf returns POSIX pathconf values (RFC 1813 Section 3.3.20).
func (h *Handler) PathConf(ctx *NFSHandlerContext, req *PathConfRequest) (*PathConfResponse, error) {
	c := h.newCall(ctx, "PATHCONF")
	logger.Info("PATHCONF: handle=%x client=%s", req.Handle, c.clientIP)

	resp := &PathConfResponse{}
	ok := c.run(h.resolveObject(req.Handle), h.statObject)
	if c.err != nil {
		return nil, c.err
	}
	resp.Status = c.status
	resp.Attr = nfsAttr(c.attr)
	if !ok {
		return resp, nil
	}

	resp.Linkmax = 1
	resp.NameMax = types.MaxPathLen
	resp.NoTrunc = true
	resp.ChownRestricted = true
	resp.CaseInsensitive = false
	resp.CasePreserving = true
	return resp, nil
}

// DecodePathConfRequest decodes PATHCONF3args.
func DecodePathConfRequest(data []byte) (*PathConfRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &PathConfRequest{Handle: handle}, nil
}

// Encode serializes PATHCONF3res.
func (resp *PathConfResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	if err := xdr.WriteUint32(&buf, resp.Linkmax); err != nil {
		return nil, fmt.Errorf("write linkmax: %w", err)
	}
	if err := xdr.WriteUint32(&buf, resp.NameMax); err != nil {
		return nil, fmt.Errorf("write name_max: %w", err)
	}
	for _, b := range []bool{resp.NoTrunc, resp.ChownRestricted, resp.CaseInsensitive, resp.CasePreserving} {
		if err := xdr.WriteBool(&buf, b); err != nil {
			return nil, fmt.Errorf("write pathconf flag: %w", err)
		}
	}
	return buf.Bytes(), nil
}
