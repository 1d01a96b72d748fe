package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// Transfer sizes advertised by FSINFO.
const (
	preferredTransferSize = 64 * 1024
	transferMultiple      = 4096
	maxFileSize           = 1<<63 - 1
)

// FsInfoRequest is FSINFO3args.
type FsInfoRequest struct {
	Handle []byte
}

// FsInfoResponse is FSINFO3res.
type FsInfoResponse struct {
	NFSResponseBase
	Attr        *types.NFSFileAttr
	Rtmax       uint32
	Rtpref      uint32
	Rtmult      uint32
	Wtmax       uint32
	Wtpref      uint32
	Wtmult      uint32
	Dtpref      uint32
	Maxfilesize uint64
	TimeDelta   types.TimeVal
	Properties  uint32
}

// FsInfo returns the static limits of the export (RFC 1813 Section 3.3.19).
// Hard links and symlinks are not offered.
func (h *Handler) FsInfo(ctx *NFSHandlerContext, req *FsInfoRequest) (*FsInfoResponse, error) {
	c := h.newCall(ctx, "FSINFO")
	logger.Info("FSINFO: handle=%x client=%s", req.Handle, c.clientIP)

	resp := &FsInfoResponse{}
	ok := c.run(h.resolveObject(req.Handle), h.statObject)
	if c.err != nil {
		return nil, c.err
	}
	resp.Status = c.status
	resp.Attr = nfsAttr(c.attr)
	if !ok {
		return resp, nil
	}

	resp.Rtmax = MaxReadSize
	resp.Rtpref = preferredTransferSize
	resp.Rtmult = transferMultiple
	resp.Wtmax = MaxWriteSize
	resp.Wtpref = preferredTransferSize
	resp.Wtmult = transferMultiple
	resp.Dtpref = preferredTransferSize
	resp.Maxfilesize = maxFileSize
	resp.TimeDelta = types.TimeVal{Seconds: 0, Nseconds: 1000000}
	resp.Properties = types.FSFHomogeneous | types.FSFCanSetTime
	return resp, nil
}

// DecodeFsInfoRequest decodes FSINFO3args.
func DecodeFsInfoRequest(data []byte) (*FsInfoRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &FsInfoRequest{Handle: handle}, nil
}

// Encode serializes FSINFO3res.
func (resp *FsInfoResponse) Encode() ([]byte, error) {
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

	for _, v := range []uint32{
		resp.Rtmax, resp.Rtpref, resp.Rtmult,
		resp.Wtmax, resp.Wtpref, resp.Wtmult,
		resp.Dtpref,
	} {
		if err := xdr.WriteUint32(&buf, v); err != nil {
			return nil, fmt.Errorf("write fsinfo field: %w", err)
		}
	}
	if err := xdr.WriteUint64(&buf, resp.Maxfilesize); err != nil {
		return nil, fmt.Errorf("write maxfilesize: %w", err)
	}
	if err := xdr.EncodeTimeVal(&buf, resp.TimeDelta); err != nil {
		return nil, fmt.Errorf("write time delta: %w", err)
	}
	if err := xdr.WriteUint32(&buf, resp.Properties); err != nil {
		return nil, fmt.Errorf("write properties: %w", err)
	}
	return buf.Bytes(), nil
}
