package handlers

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// SetAttrRequest is SETATTR3args.
type SetAttrRequest struct {
	Handle   []byte
	NewAttrs *types.SetAttrs
	Guard    types.TimeGuard
}

// SetAttrResponse is SETATTR3res: wcc_data in both arms.
type SetAttrResponse struct {
	NFSResponseBase
	Before *types.WccAttr
	After  *types.NFSFileAttr
}

// SetAttr changes object attributes (RFC 1813 Section 3.3.2).
//
// Only a size change does anything: it truncates the resident copy and
// marks it dirty. Mode and ownership changes are accepted and ignored
// because the remote store has no such concept, and so is a touch
// (SET_TO_SERVER_TIME), which open(O_TRUNC) sends along with the size. A
// client-supplied atime or mtime is refused with ACCES, which makes the
// client drop its attribute cache instead of trusting a time that was never
// stored.
func (h *Handler) SetAttr(ctx *NFSHandlerContext, req *SetAttrRequest) (*SetAttrResponse, error) {
	c := h.newCall(ctx, "SETATTR")
	attrs := req.NewAttrs
	if attrs == nil {
		attrs = &types.SetAttrs{}
	}

	size := "-"
	if attrs.Size != nil {
		size = fmt.Sprintf("%d", *attrs.Size)
	}
	logger.Info("SETATTR: handle=%x size=%s client=%s", req.Handle, size, c.clientIP)

	resp := &SetAttrResponse{}

	c.run(
		h.resolveObject(req.Handle),
		h.statObject,
		func(c *call) bool {
			if req.Guard.Check && req.Guard.Time != xdr.TimeToTimeVal(c.attr.ChangeTime) {
				logger.Debug("SETATTR: guard mismatch on %s", c.path)
				return c.fail(types.NFS3ErrNotSync)
			}
			return true
		},
		func(c *call) bool {
			if attrs.AtimeHow == types.TimeSetToClientTime || attrs.MtimeHow == types.TimeSetToClientTime {
				logger.Debug("SETATTR: refusing time change on %s", c.path)
				return c.fail(types.NFS3ErrAcces)
			}
			return true
		},
		func(c *call) bool {
			if attrs.Size == nil {
				if attrs.ChangesOwnership() || attrs.ChangesTime() {
					logger.Debug("SETATTR: ignoring chmod/chown/touch on %s", c.path)
				}
				return true
			}
			if c.attr.IsDir {
				return c.fail(types.NFS3ErrIsDir)
			}
			if err := h.fs.Truncate(c.ctx, c.path, *attrs.Size); err != nil {
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
		if c.status == types.NFS3OK && attrs.Size != nil {
			if attr, err := h.fs.Stat(c.ctx, c.path); err == nil {
				resp.After = nfsAttr(attr)
			}
		}
	}
	return resp, nil
}

// DecodeSetAttrRequest decodes SETATTR3args.
func DecodeSetAttrRequest(data []byte) (*SetAttrRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}

	attrs, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}

	req := &SetAttrRequest{Handle: handle, NewAttrs: attrs}

	var check uint32
	if err := binary.Read(reader, binary.BigEndian, &check); err != nil {
		return nil, fmt.Errorf("read guard: %w", err)
	}
	if check == 1 {
		req.Guard.Check = true
		if req.Guard.Time, err = xdr.DecodeTimeVal(reader); err != nil {
			return nil, fmt.Errorf("read guard ctime: %w", err)
		}
	}
	return req, nil
}

// Encode serializes SETATTR3res.
func (resp *SetAttrResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.Before, resp.After); err != nil {
		return nil, fmt.Errorf("encode wcc data: %w", err)
	}
	return buf.Bytes(), nil
}
