package handlers

import (
	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	nfsxdr "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// UmountAllRequest is the empty UMNTALL argument.
type UmountAllRequest struct{}

// UmountAllResponse is void on the wire.
type UmountAllResponse struct {
	MountResponseBase
}

// UmntAll removes every mount record of the calling client.
func (h *Handler) UmntAll(ctx *MountHandlerContext, req *UmountAllRequest) (*UmountAllResponse, error) {
	clientIP := nfsxdr.ExtractClientIP(ctx.ClientAddr)
	n := h.reg.RemoveAllMounts(clientIP)
	logger.Info("MOUNT UMNTALL: client=%s removed=%d", clientIP, n)
	return &UmountAllResponse{}, nil
}

// DecodeUmountAllRequest ignores any payload.
func DecodeUmountAllRequest(data []byte) (*UmountAllRequest, error) {
	return &UmountAllRequest{}, nil
}

// Encode returns an empty body.
func (resp *UmountAllResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}
