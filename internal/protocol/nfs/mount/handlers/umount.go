package handlers

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	nfsxdr "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
	"github.com/TritonDataCenter/manta-nfs/pkg/registry"
)

// UmountRequest is the dirpath argument of UMNT.
type UmountRequest struct {
	DirPath string
}

// UmountResponse is void on the wire.
type UmountResponse struct {
	MountResponseBase
}

// Umnt removes one mount record. It never touches the cache: a client may
// unmount while another still uses the same directory.
func (h *Handler) Umnt(ctx *MountHandlerContext, req *UmountRequest) (*UmountResponse, error) {
	clientIP := nfsxdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("MOUNT UMNT: path=%s client=%s", req.DirPath, clientIP)

	p, ok := registry.NormalizePath(req.DirPath)
	if ok && h.reg.RemoveMount(clientIP, p) {
		logger.Debug("MOUNT UMNT: removed %s for %s", p, clientIP)
	} else {
		logger.Debug("MOUNT UMNT: no mount of %q for %s", req.DirPath, clientIP)
	}
	return &UmountResponse{}, nil
}

// DecodeUmountRequest decodes dirpath.
func DecodeUmountRequest(data []byte) (*UmountRequest, error) {
	req := &UmountRequest{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), req); err != nil {
		return nil, fmt.Errorf("unmarshal umount request: %w", err)
	}
	return req, nil
}

// Encode returns an empty body.
func (resp *UmountResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}
