package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// RemoveRequest is REMOVE3args.
type RemoveRequest struct {
	DirHandle []byte
	Filename  string
}

// RemoveResponse is REMOVE3res: wcc_data of the directory in both arms.
type RemoveResponse struct {
	NFSResponseBase
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// Remove deletes a file (RFC 1813 Section 3.3.12). Directories are refused
// with NOTDIR; RMDIR removes those.
func (h *Handler) Remove(ctx *NFSHandlerContext, req *RemoveRequest) (*RemoveResponse, error) {
	c := h.newCall(ctx, "REMOVE")
	logger.Info("REMOVE: dir=%x name=%q client=%s", req.DirHandle, req.Filename, c.clientIP)

	resp := &RemoveResponse{}

	c.run(
		h.resolveDir(req.DirHandle, req.Filename),
		validName(req.Filename),
		h.statDir,
		h.statObject,
		func(c *call) bool {
			if c.attr.IsDir {
				logger.Warn("REMOVE: %s is a directory client=%s", c.path, c.clientIP)
				return c.fail(types.NFS3ErrNotDir)
			}
			return true
		},
		func(c *call) bool {
			if err := h.fs.Unlink(c.ctx, c.path); err != nil {
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
	return resp, nil
}

// DecodeRemoveRequest decodes REMOVE3args.
func DecodeRemoveRequest(data []byte) (*RemoveRequest, error) {
	handle, name, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &RemoveRequest{DirHandle: handle, Filename: name}, nil
}

// Encode serializes REMOVE3res.
func (resp *RemoveResponse) Encode() ([]byte, error) {
	return encodeDirWcc(resp.Status, resp.DirBefore, resp.DirAfter)
}

// encodeDirWcc encodes the status followed by one wcc_data, the body of
// REMOVE3res, RMDIR3res and the failure arms of several other replies.
func encodeDirWcc(status uint32, before *types.WccAttr, after *types.NFSFileAttr) ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, before, after); err != nil {
		return nil, fmt.Errorf("encode wcc data: %w", err)
	}
	return buf.Bytes(), nil
}
