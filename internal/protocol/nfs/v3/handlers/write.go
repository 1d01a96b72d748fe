package handlers

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// MaxWriteSize is wtmax advertised by FSINFO.
const MaxWriteSize = 1 << 20

// WriteRequest is WRITE3args.
type WriteRequest struct {
	Handle []byte
	Offset uint64
	Count  uint32
	Stable uint32
	Data   []byte
}

// WriteResponse is WRITE3res.
type WriteResponse struct {
	NFSResponseBase
	Before    *types.WccAttr
	After     *types.NFSFileAttr
	Count     uint32
	Committed uint32
	Verf      [8]byte
}

// Write writes into the resident copy of a file (RFC 1813 Section 3.3.7).
//
// The data reaches the backing file before the reply, so every write is
// reported FILE_SYNC. The entry becomes dirty and is uploaded by COMMIT or
// by the periodic write-back.
func (h *Handler) Write(ctx *NFSHandlerContext, req *WriteRequest) (*WriteResponse, error) {
	c := h.newCall(ctx, "WRITE")
	logger.Info("WRITE: handle=%x offset=%d count=%d stable=%d client=%s",
		req.Handle, req.Offset, req.Count, req.Stable, c.clientIP)

	resp := &WriteResponse{Verf: h.writeVerf}
	var n int

	ok := c.run(
		h.resolveObject(req.Handle),
		func(c *call) bool {
			if req.Count > MaxWriteSize || int(req.Count) > len(req.Data) {
				logger.Warn("WRITE: bad count %d (data %d bytes) client=%s", req.Count, len(req.Data), c.clientIP)
				return c.fail(types.NFS3ErrInval)
			}
			return true
		},
		h.statObject,
		func(c *call) bool {
			if c.attr.IsDir {
				return c.fail(types.NFS3ErrIsDir)
			}
			return true
		},
		h.ensureResident,
		func(c *call) bool {
			var err error
			n, err = h.fs.Write(c.ctx, c.path, req.Offset, req.Data[:req.Count])
			if err != nil {
				return c.failErr(err)
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
	}
	if !ok {
		return resp, nil
	}

	if attr, err := h.fs.Stat(c.ctx, c.path); err == nil {
		resp.After = nfsAttr(attr)
	}
	resp.Count = uint32(n)
	resp.Committed = types.WriteFileSync

	logger.Debug("WRITE: %s wrote %d bytes", c.path, n)
	return resp, nil
}

// DecodeWriteRequest decodes WRITE3args.
func DecodeWriteRequest(data []byte) (*WriteRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	req := &WriteRequest{Handle: handle}

	if err := binary.Read(reader, binary.BigEndian, &req.Offset); err != nil {
		return nil, fmt.Errorf("read offset: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &req.Count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &req.Stable); err != nil {
		return nil, fmt.Errorf("read stable: %w", err)
	}
	if req.Data, err = xdr.DecodeOpaque(reader); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return req, nil
}

// Encode serializes WRITE3res.
func (resp *WriteResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.Before, resp.After); err != nil {
		return nil, fmt.Errorf("encode wcc data: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	if err := xdr.WriteUint32(&buf, resp.Count); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	if err := xdr.WriteUint32(&buf, resp.Committed); err != nil {
		return nil, fmt.Errorf("write committed: %w", err)
	}
	buf.Write(resp.Verf[:])
	return buf.Bytes(), nil
}
