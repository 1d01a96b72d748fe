package handlers

import "github.com/TritonDataCenter/manta-nfs/internal/logger"

// NullRequest is the empty MOUNTPROC_NULL argument.
type NullRequest struct{}

// NullResponse is the empty MOUNTPROC_NULL result.
type NullResponse struct {
	MountResponseBase
}

// MountNull does nothing. Clients use it to probe the service.
func (h *Handler) MountNull(ctx *MountHandlerContext, req *NullRequest) (*NullResponse, error) {
	logger.Debug("MOUNT NULL: client=%s", ctx.ClientAddr)
	return &NullResponse{}, nil
}

// DecodeNullRequest ignores any payload.
func DecodeNullRequest(data []byte) (*NullRequest, error) {
	return &NullRequest{}, nil
}

// Encode returns an empty body.
func (resp *NullResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}
