package handlers

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
	"github.com/TritonDataCenter/manta-nfs/pkg/vfs"
)

// call is the request-scoped state threaded through a procedure's stages.
type call struct {
	ctx      context.Context
	op       string
	clientIP string

	// path is the target object. dir is its parent for procedures that
	// address an object by (directory handle, name).
	path string
	dir  string

	attr    *vfs.Attr
	dirAttr *vfs.Attr

	// dirBefore is the parent's pre-operation wcc_attr.
	dirBefore *types.WccAttr

	status uint32
	err    error
}

// stage is one step of a procedure. It returns false to stop the chain,
// after setting either status or err.
type stage func(c *call) bool

func (h *Handler) newCall(ctx *NFSHandlerContext, op string) *call {
	return &call{
		ctx:      ctx.GetContext(),
		op:       op,
		clientIP: xdr.ExtractClientIP(ctx.GetClientAddr()),
		status:   types.NFS3OK,
	}
}

// run executes stages in order until one stops the chain or the context
// is cancelled. It reports whether every stage passed.
func (c *call) run(stages ...stage) bool {
	for _, s := range stages {
		if err := c.ctx.Err(); err != nil {
			logger.Debug("%s: request cancelled: client=%s error=%v", c.op, c.clientIP, err)
			c.err = err
			return false
		}
		if !s(c) {
			return false
		}
	}
	return true
}

func (c *call) fail(status uint32) bool {
	c.status = status
	return false
}

// failErr maps err through the shared error table. Cancellation aborts the
// request instead of producing a reply.
func (c *call) failErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.err = err
		return false
	}
	c.status = xdr.MapErrorToNFSStatus(err, c.clientIP, c.op)
	return false
}

// ============================================================================
// Common stages
// ============================================================================

// resolveObject maps the object handle to its logical path. Any failure,
// malformed or unknown, is BADHANDLE.
func (h *Handler) resolveObject(fh []byte) stage {
	return func(c *call) bool {
		handle, err := xdr.DecodeHandle(fh)
		if err != nil {
			logger.Warn("%s: %v: handle=%x client=%s", c.op, err, fh, c.clientIP)
			return c.fail(types.NFS3ErrBadHandle)
		}
		p, err := h.fs.Resolve(c.ctx, handle)
		if err != nil {
			logger.Warn("%s: resolve failed: handle=%s client=%s error=%v", c.op, handle, c.clientIP, err)
			return c.fail(types.NFS3ErrBadHandle)
		}
		c.path = p
		logger.Debug("%s: resolved %s -> %s", c.op, handle, p)
		return true
	}
}

// resolveDir maps the directory handle of a diropargs3 to its path and
// joins the child name. A handle that no longer resolves is STALE.
func (h *Handler) resolveDir(fh []byte, name string) stage {
	return func(c *call) bool {
		handle, err := xdr.DecodeHandle(fh)
		if err != nil {
			logger.Warn("%s: %v: handle=%x client=%s", c.op, err, fh, c.clientIP)
			return c.fail(types.NFS3ErrBadHandle)
		}
		dir, err := h.fs.Resolve(c.ctx, handle)
		if err != nil {
			logger.Warn("%s: directory handle not found: handle=%s client=%s error=%v",
				c.op, handle, c.clientIP, err)
			return c.fail(types.NFS3ErrStale)
		}
		c.dir = dir
		c.path = childPath(dir, name)
		logger.Debug("%s: resolved %s -> %s", c.op, handle, c.path)
		return true
	}
}

// validName rejects names that cannot be created: empty, "." and "..",
// names containing a slash, and names longer than NAME_MAX.
func validName(name string) stage {
	return func(c *call) bool {
		switch {
		case len(name) > types.MaxNameLen:
			return c.fail(types.NFS3ErrNameTooLong)
		case name == "", name == ".", name == "..", strings.Contains(name, "/"):
			logger.Warn("%s: invalid name %q client=%s", c.op, name, c.clientIP)
			return c.fail(types.NFS3ErrInval)
		}
		return true
	}
}

// statObject stats the target, materializing a directory on a miss.
func (h *Handler) statObject(c *call) bool {
	attr, err := h.fs.Stat(c.ctx, c.path)
	if err != nil {
		return c.failErr(err)
	}
	c.attr = attr
	return true
}

// statDir stats the parent directory and records its pre-operation
// attributes. Failure here is a server fault: the handle resolved, so the
// directory should exist.
func (h *Handler) statDir(c *call) bool {
	attr, err := h.fs.Stat(c.ctx, c.dir)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.err = err
			return false
		}
		logger.Warn("%s: stat of directory %s failed: client=%s error=%v", c.op, c.dir, c.clientIP, err)
		return c.fail(types.NFS3ErrServerFault)
	}
	if !attr.IsDir {
		c.dirAttr = attr
		return c.fail(types.NFS3ErrNotDir)
	}
	c.dirAttr = attr
	c.dirBefore = xdr.CaptureWccAttr(attr)
	return true
}

// ensureResident makes a plain file resident before data is touched.
func (h *Handler) ensureResident(c *call) bool {
	if err := h.fs.Ensure(c.ctx, c.path); err != nil {
		return c.failErr(err)
	}
	return true
}

// restatDir refreshes the parent attributes after a mutation. Failures
// only cost the client its post-op attributes.
func (h *Handler) restatDir(c *call) {
	if c.dir == "" {
		return
	}
	if attr, err := h.fs.Stat(c.ctx, c.dir); err == nil {
		c.dirAttr = attr
	}
}

// handleFor returns the wire handle of p, allocating one if needed.
func (h *Handler) handleFor(ctx context.Context, p string) ([]byte, error) {
	handle, err := h.fs.Handle(ctx, p)
	if err != nil {
		return nil, err
	}
	return xdr.EncodeHandle(handle)
}

// childPath joins a directory and a component, resolving "." and "..".
func childPath(dir, name string) string {
	switch name {
	case ".":
		return dir
	case "..":
		return path.Dir(dir)
	}
	return path.Join(dir, name)
}

func nfsAttr(attr *vfs.Attr) *types.NFSFileAttr {
	return xdr.AttrToNFS(attr)
}
