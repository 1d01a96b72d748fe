package handlers

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// CreateRequest is CREATE3args.
type CreateRequest struct {
	DirHandle []byte
	Filename  string
	Mode      uint32

	// Attrs is set for UNCHECKED and GUARDED, Verf for EXCLUSIVE.
	Attrs *types.SetAttrs
	Verf  [8]byte
}

// CreateResponse is CREATE3res.
type CreateResponse struct {
	NFSResponseBase
	FileHandle []byte
	Attr       *types.NFSFileAttr
	DirBefore  *types.WccAttr
	DirAfter   *types.NFSFileAttr
}

// Create makes a regular file (RFC 1813 Section 3.3.8).
//
//   - EXCLUSIVE is not supported (NOTSUPP).
//   - GUARDED fails with EXIST when the name is taken.
//   - UNCHECKED truncates an existing file.
//
// The empty object is written to the remote store and cached, the parent's
// cached listing is dropped, and the new object is resolved and stat'ed
// for the reply.
func (h *Handler) Create(ctx *NFSHandlerContext, req *CreateRequest) (*CreateResponse, error) {
	c := h.newCall(ctx, "CREATE")
	logger.Info("CREATE: dir=%x name=%q mode=%d client=%s", req.DirHandle, req.Filename, req.Mode, c.clientIP)

	resp := &CreateResponse{}
	var fh []byte

	ok := c.run(
		h.resolveDir(req.DirHandle, req.Filename),
		validName(req.Filename),
		h.statDir,
		func(c *call) bool {
			switch req.Mode {
			case types.CreateExclusive:
				logger.Warn("CREATE: exclusive create not supported client=%s", c.clientIP)
				return c.fail(types.NFS3ErrNotSupp)
			case types.CreateGuarded:
				_, err := h.fs.Stat(c.ctx, c.path)
				if err == nil {
					return c.fail(types.NFS3ErrExist)
				}
				if !xdr.IsNotFound(err) {
					return c.failErr(err)
				}
			}
			return true
		},
		func(c *call) bool {
			attr, err := h.fs.Create(c.ctx, c.path)
			if err != nil {
				return c.failErr(err)
			}
			c.attr = attr
			return true
		},
		func(c *call) bool {
			var err error
			if fh, err = h.handleFor(c.ctx, c.path); err != nil {
				logger.Warn("CREATE: handle for %s: %v", c.path, err)
				return c.fail(types.NFS3ErrNoEnt)
			}
			return true
		},
	)
	if c.err != nil {
		return nil, c.err
	}

	h.restatDir(c)
	resp.Status = c.status
	resp.DirBefore = c.dirBefore
	resp.DirAfter = nfsAttr(c.dirAttr)
	if ok {
		resp.FileHandle = fh
		resp.Attr = nfsAttr(c.attr)
		logger.Debug("CREATE: %s -> %x", c.path, fh)
	}
	return resp, nil
}

// DecodeCreateRequest decodes CREATE3args.
func DecodeCreateRequest(data []byte) (*CreateRequest, error) {
	reader := bytes.NewReader(data)

	handle, name, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, err
	}
	req := &CreateRequest{DirHandle: handle, Filename: name}

	if err := binary.Read(reader, binary.BigEndian, &req.Mode); err != nil {
		return nil, fmt.Errorf("read create mode: %w", err)
	}

	switch req.Mode {
	case types.CreateUnchecked, types.CreateGuarded:
		if req.Attrs, err = xdr.DecodeSetAttrs(reader); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	case types.CreateExclusive:
		if _, err := io.ReadFull(reader, req.Verf[:]); err != nil {
			return nil, fmt.Errorf("read verifier: %w", err)
		}
	default:
		return nil, fmt.Errorf("invalid create mode %d", req.Mode)
	}
	return req, nil
}

// Encode serializes CREATE3res.
func (resp *CreateResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeOptionalOpaque(&buf, resp.FileHandle); err != nil {
			return nil, fmt.Errorf("encode handle: %w", err)
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
			return nil, fmt.Errorf("encode attributes: %w", err)
		}
	}
	if err := xdr.EncodeWccData(&buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, fmt.Errorf("encode dir wcc: %w", err)
	}
	return buf.Bytes(), nil
}
