package handlers

import (
	"bytes"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// LinkRequest is LINK3args.
type LinkRequest struct {
	FileHandle []byte
	DirHandle  []byte
	Name       string
}

// LinkResponse is LINK3res.
type LinkResponse struct {
	NFSResponseBase
	Attr      *types.NFSFileAttr
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// Link is not supported: there are no hard links in an object store
// (RFC 1813 Section 3.3.15).
func (h *Handler) Link(ctx *NFSHandlerContext, req *LinkRequest) (*LinkResponse, error) {
	logger.Info("LINK: file=%x dir=%x name=%q client=%s (not supported)",
		req.FileHandle, req.DirHandle, req.Name, xdr.ExtractClientIP(ctx.GetClientAddr()))
	return &LinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSupp}}, nil
}

// DecodeLinkRequest decodes LINK3args.
func DecodeLinkRequest(data []byte) (*LinkRequest, error) {
	reader := bytes.NewReader(data)

	file, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	dir, name, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, err
	}
	return &LinkRequest{FileHandle: file, DirHandle: dir, Name: name}, nil
}

// Encode serializes LINK3res.
func (resp *LinkResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, fmt.Errorf("encode dir wcc: %w", err)
	}
	return buf.Bytes(), nil
}
