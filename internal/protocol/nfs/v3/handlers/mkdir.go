package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// MkdirRequest is MKDIR3args.
type MkdirRequest struct {
	DirHandle []byte
	Name      string
	Attrs     *types.SetAttrs
}

// MkdirResponse is MKDIR3res. It has the same shape as CREATE3res.
type MkdirResponse struct {
	NFSResponseBase
	FileHandle []byte
	Attr       *types.NFSFileAttr
	DirBefore  *types.WccAttr
	DirAfter   *types.NFSFileAttr
}

// Mkdir creates a directory (RFC 1813 Section 3.3.9): the remote directory
// is created, its empty listing materialized, and a handle allocated.
func (h *Handler) Mkdir(ctx *NFSHandlerContext, req *MkdirRequest) (*MkdirResponse, error) {
	c := h.newCall(ctx, "MKDIR")
	logger.Info("MKDIR: dir=%x name=%q client=%s", req.DirHandle, req.Name, c.clientIP)

	resp := &MkdirResponse{}
	var fh []byte

	ok := c.run(
		h.resolveDir(req.DirHandle, req.Name),
		validName(req.Name),
		h.statDir,
		func(c *call) bool {
			_, err := h.fs.Stat(c.ctx, c.path)
			if err == nil {
				return c.fail(types.NFS3ErrExist)
			}
			if !xdr.IsNotFound(err) {
				return c.failErr(err)
			}
			return true
		},
		func(c *call) bool {
			attr, err := h.fs.Mkdir(c.ctx, c.path)
			if err != nil {
				return c.failErr(err)
			}
			c.attr = attr
			return true
		},
		func(c *call) bool {
			var err error
			if fh, err = h.handleFor(c.ctx, c.path); err != nil {
				return c.failErr(err)
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
	}
	return resp, nil
}

// DecodeMkdirRequest decodes MKDIR3args.
func DecodeMkdirRequest(data []byte) (*MkdirRequest, error) {
	reader := bytes.NewReader(data)

	handle, name, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, err
	}
	attrs, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return &MkdirRequest{DirHandle: handle, Name: name, Attrs: attrs}, nil
}

// Encode serializes MKDIR3res.
func (resp *MkdirResponse) Encode() ([]byte, error) {
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
