package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// FsStatRequest is FSSTAT3args.
type FsStatRequest struct {
	Handle []byte
}

// FsStatResponse is FSSTAT3res.
type FsStatResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr
	types.FSStat
}

// FsStat reports the capacity of the local cache filesystem (RFC 1813
// Section 3.3.18). The remote store has no meaningful capacity, so the
// numbers describe the disk the cache lives on.
func (h *Handler) FsStat(ctx *NFSHandlerContext, req *FsStatRequest) (*FsStatResponse, error) {
	c := h.newCall(ctx, "FSSTAT")
	logger.Info("FSSTAT: handle=%x client=%s", req.Handle, c.clientIP)

	resp := &FsStatResponse{}
	ok := c.run(h.resolveObject(req.Handle), h.statObject)
	if c.err != nil {
		return nil, c.err
	}
	resp.Status = c.status
	resp.Attr = nfsAttr(c.attr)
	if !ok {
		return resp, nil
	}

	st, err := h.fs.FsStat()
	if err != nil {
		logger.Error("FSSTAT: statfs of cache failed: %v", err)
		resp.Status = types.NFS3ErrIO
		return resp, nil
	}

	resp.FSStat = types.FSStat{
		TotalBytes: st.TotalBytes,
		FreeBytes:  st.FreeBytes,
		AvailBytes: st.AvailBytes,
		TotalFiles: st.TotalFiles,
		FreeFiles:  st.FreeFiles,
		AvailFiles: st.FreeFiles,
	}
	return resp, nil
}

// DecodeFsStatRequest decodes FSSTAT3args.
func DecodeFsStatRequest(data []byte) (*FsStatRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &FsStatRequest{Handle: handle}, nil
}

// Encode serializes FSSTAT3res.
func (resp *FsStatResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	for _, v := range []uint64{
		resp.TotalBytes, resp.FreeBytes, resp.AvailBytes,
		resp.TotalFiles, resp.FreeFiles, resp.AvailFiles,
	} {
		if err := xdr.WriteUint64(&buf, v); err != nil {
			return nil, fmt.Errorf("write fsstat field: %w", err)
		}
	}
	if err := xdr.WriteUint32(&buf, resp.Invarsec); err != nil {
		return nil, fmt.Errorf("write invarsec: %w", err)
	}
	return buf.Bytes(), nil
}
