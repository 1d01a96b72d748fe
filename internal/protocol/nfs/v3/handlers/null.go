package handlers

import "github.com/TritonDataCenter/manta-nfs/internal/logger"

// NullRequest is the empty NFSPROC3_NULL argument.
type NullRequest struct{}

// NullResponse is the empty NFSPROC3_NULL result.
type NullResponse struct {
	NFSResponseBase
}

// Null does nothing. Clients use it to probe the server (RFC 1813 Section 3.3.0).
func (h *Handler) Null(ctx *NFSHandlerContext, req *NullRequest) (*NullResponse, error) {
	if err := ctx.GetContext().Err(); err != nil {
		return nil, err
	}
	logger.Debug("NULL: client=%s", ctx.GetClientAddr())
	return &NullResponse{}, nil
}

// DecodeNullRequest accepts any body; NULL has no arguments.
func DecodeNullRequest(data []byte) (*NullRequest, error) {
	return &NullRequest{}, nil
}

// Encode returns an empty body.
func (resp *NullResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}
