package handlers

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// CommitRequest is COMMIT3args. Offset and Count are ignored: the whole
// file is synced.
type CommitRequest struct {
	Handle []byte
	Offset uint64
	Count  uint32
}

// CommitResponse is COMMIT3res.
type CommitResponse struct {
	NFSResponseBase
	Before *types.WccAttr
	After  *types.NFSFileAttr
	Verf   [8]byte
}

// Commit fsyncs the backing file and uploads dirty content to the remote
// store (RFC 1813 Section 3.3.21). Any failure is a server fault.
func (h *Handler) Commit(ctx *NFSHandlerContext, req *CommitRequest) (*CommitResponse, error) {
	c := h.newCall(ctx, "COMMIT")
	logger.Info("COMMIT: handle=%x offset=%d count=%d client=%s", req.Handle, req.Offset, req.Count, c.clientIP)

	resp := &CommitResponse{Verf: h.writeVerf}

	c.run(
		h.resolveObject(req.Handle),
		h.statObject,
		func(c *call) bool {
			if err := h.fs.Commit(c.ctx, c.path); err != nil {
				c.failErr(err)
				if c.err == nil {
					logger.Warn("COMMIT: %s failed: %v", c.path, err)
					c.status = types.NFS3ErrServerFault
				}
				return false
			}
			return true
		},
	)
	if c.err != nil {
		return nil, c.err
	}

	resp.Status = c.status
	if c.attr != nil {
		resp.Before = xdr.CaptureWccAttr(c.attr)
		resp.After = nfsAttr(c.attr)
		if attr, err := h.fs.Stat(c.ctx, c.path); err == nil {
			resp.After = nfsAttr(attr)
		}
	}
	return resp, nil
}

// DecodeCommitRequest decodes COMMIT3args.
func DecodeCommitRequest(data []byte) (*CommitRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	req := &CommitRequest{Handle: handle}
	if err := binary.Read(reader, binary.BigEndian, &req.Offset); err != nil {
		return nil, fmt.Errorf("read offset: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &req.Count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	return req, nil
}

// Encode serializes COMMIT3res.
func (resp *CommitResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.Before, resp.After); err != nil {
		return nil, fmt.Errorf("encode wcc data: %w", err)
	}
	if resp.Status == types.NFS3OK {
		buf.Write(resp.Verf[:])
	}
	return buf.Bytes(), nil
}
