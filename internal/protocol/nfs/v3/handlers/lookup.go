package handlers

import (
	"bytes"
	"fmt"
	"io"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// LookupRequest is LOOKUP3args (a diropargs3).
type LookupRequest struct {
	DirHandle []byte
	Filename  string
}

// LookupResponse is LOOKUP3res.
type LookupResponse struct {
	NFSResponseBase
	FileHandle []byte
	Attr       *types.NFSFileAttr
	DirAttr    *types.NFSFileAttr
}

// Lookup resolves a name in a directory (RFC 1813 Section 3.3.3).
//
// Stages:
//  1. resolve the directory handle (STALE if it no longer resolves)
//  2. stat the directory (SERVERFAULT on failure, NOTDIR if it is a file)
//  3. stat the child (NOENT when it does not exist)
//  4. resolve or allocate the child's handle
func (h *Handler) Lookup(ctx *NFSHandlerContext, req *LookupRequest) (*LookupResponse, error) {
	c := h.newCall(ctx, "LOOKUP")
	logger.Info("LOOKUP: dir=%x name=%q client=%s", req.DirHandle, req.Filename, c.clientIP)

	resp := &LookupResponse{}
	var fh []byte

	ok := c.run(
		h.resolveDir(req.DirHandle, req.Filename),
		func(c *call) bool {
			if len(req.Filename) > types.MaxNameLen {
				return c.fail(types.NFS3ErrNameTooLong)
			}
			return true
		},
		h.statDir,
		func(c *call) bool {
			attr, err := h.fs.Stat(c.ctx, c.path)
			if err != nil {
				if xdr.IsNotFound(err) {
					logger.Debug("LOOKUP: %s not found", c.path)
					return c.fail(types.NFS3ErrNoEnt)
				}
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

	resp.Status = c.status
	resp.DirAttr = nfsAttr(c.dirAttr)
	if ok {
		resp.FileHandle = fh
		resp.Attr = nfsAttr(c.attr)
		logger.Debug("LOOKUP: %s -> %x", c.path, fh)
	}
	return resp, nil
}

// decodeDirOpArgs decodes a diropargs3: a directory handle and a name.
func decodeDirOpArgs(reader io.Reader) ([]byte, string, error) {
	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, "", err
	}
	name, err := xdr.DecodeString(reader)
	if err != nil {
		return nil, "", fmt.Errorf("decode name: %w", err)
	}
	return handle, name, nil
}

// DecodeLookupRequest decodes LOOKUP3args.
func DecodeLookupRequest(data []byte) (*LookupRequest, error) {
	handle, name, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &LookupRequest{DirHandle: handle, Filename: name}, nil
}

// Encode serializes LOOKUP3res.
func (resp *LookupResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if resp.Status != types.NFS3OK {
		if err := xdr.EncodeOptionalFileAttr(&buf, resp.DirAttr); err != nil {
			return nil, fmt.Errorf("encode dir attributes: %w", err)
		}
		return buf.Bytes(), nil
	}

	if err := xdr.EncodeOpaque(&buf, resp.FileHandle); err != nil {
		return nil, fmt.Errorf("encode handle: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.DirAttr); err != nil {
		return nil, fmt.Errorf("encode dir attributes: %w", err)
	}
	return buf.Bytes(), nil
}
