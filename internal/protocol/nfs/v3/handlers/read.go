package handlers

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// MaxReadSize is rtmax advertised by FSINFO. Larger counts are clamped.
const MaxReadSize = 1 << 20

// ReadRequest is READ3args.
type ReadRequest struct {
	Handle []byte
	Offset uint64
	Count  uint32
}

// ReadResponse is READ3res.
type ReadResponse struct {
	NFSResponseBase
	Attr  *types.NFSFileAttr
	Count uint32
	Eof   bool
	Data  []byte
}

// Read reads from a regular file (RFC 1813 Section 3.3.6).
//
// The object is made resident first; a plain file that is not cached is
// downloaded from the remote store. The returned buffer may be shorter
// than requested, and Eof is set when size <= offset + bytes read.
func (h *Handler) Read(ctx *NFSHandlerContext, req *ReadRequest) (*ReadResponse, error) {
	c := h.newCall(ctx, "READ")
	logger.Info("READ: handle=%x offset=%d count=%d client=%s", req.Handle, req.Offset, req.Count, c.clientIP)

	count := min(req.Count, MaxReadSize)

	resp := &ReadResponse{}
	var (
		data []byte
		eof  bool
	)

	ok := c.run(
		h.resolveObject(req.Handle),
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
			data, eof, err = h.fs.Read(c.ctx, c.path, req.Offset, count)
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
	resp.Attr = nfsAttr(c.attr)
	if !ok {
		return resp, nil
	}

	if attr, err := h.fs.Stat(c.ctx, c.path); err == nil {
		resp.Attr = nfsAttr(attr)
	}
	resp.Data = data
	resp.Count = uint32(len(data))
	resp.Eof = eof

	logger.Debug("READ: %s read %d bytes eof=%v", c.path, resp.Count, eof)
	return resp, nil
}

// DecodeReadRequest decodes READ3args.
func DecodeReadRequest(data []byte) (*ReadRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	req := &ReadRequest{Handle: handle}
	if err := binary.Read(reader, binary.BigEndian, &req.Offset); err != nil {
		return nil, fmt.Errorf("read offset: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &req.Count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	return req, nil
}

// Encode serializes READ3res.
func (resp *ReadResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(128 + len(resp.Data))

	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	if err := xdr.WriteUint32(&buf, resp.Count); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	if err := xdr.WriteBool(&buf, resp.Eof); err != nil {
		return nil, fmt.Errorf("write eof: %w", err)
	}
	if err := xdr.EncodeOpaque(&buf, resp.Data); err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return buf.Bytes(), nil
}
