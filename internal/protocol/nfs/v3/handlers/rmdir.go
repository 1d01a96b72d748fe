package handlers

import (
	"bytes"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
)

// RmdirRequest is RMDIR3args.
type RmdirRequest struct {
	DirHandle []byte
	Name      string
}

// RmdirResponse is RMDIR3res.
type RmdirResponse struct {
	NFSResponseBase
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// Rmdir deletes an empty directory (RFC 1813 Section 3.3.13). A plain file
// is refused with NOTDIR and a populated directory with NOTEMPTY.
func (h *Handler) Rmdir(ctx *NFSHandlerContext, req *RmdirRequest) (*RmdirResponse, error) {
	c := h.newCall(ctx, "RMDIR")
	logger.Info("RMDIR: dir=%x name=%q client=%s", req.DirHandle, req.Name, c.clientIP)

	resp := &RmdirResponse{}

	c.run(
		h.resolveDir(req.DirHandle, req.Name),
		validName(req.Name),
		h.statDir,
		h.statObject,
		func(c *call) bool {
			if !c.attr.IsDir {
				logger.Warn("RMDIR: %s is not a directory client=%s", c.path, c.clientIP)
				return c.fail(types.NFS3ErrNotDir)
			}
			return true
		},
		func(c *call) bool {
			if err := h.fs.Rmdir(c.ctx, c.path); err != nil {
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

// DecodeRmdirRequest decodes RMDIR3args.
func DecodeRmdirRequest(data []byte) (*RmdirRequest, error) {
	handle, name, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &RmdirRequest{DirHandle: handle, Name: name}, nil
}

// Encode serializes RMDIR3res.
func (resp *RmdirResponse) Encode() ([]byte, error) {
	return encodeDirWcc(resp.Status, resp.DirBefore, resp.DirAfter)
}
