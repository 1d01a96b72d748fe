package handlers

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
	"github.com/TritonDataCenter/manta-nfs/pkg/cache"
)

// ReadDirPlusRequest is READDIRPLUS3args.
type ReadDirPlusRequest struct {
	DirHandle  []byte
	Cookie     uint64
	CookieVerf [8]byte
	DirCount   uint32
	MaxCount   uint32
}

// ReadDirPlusResponse is READDIRPLUS3res.
type ReadDirPlusResponse struct {
	NFSResponseBase
	DirAttr    *types.NFSFileAttr
	CookieVerf [8]byte
	Entries    []types.DirEntryPlus
	Eof        bool
}

// ReadDirPlus lists a directory with attributes and handles for every
// entry (RFC 1813 Section 3.3.17). Pagination and cookies follow READDIR.
// DirCount bounds the fileid, name and cookie bytes; MaxCount bounds the
// whole reply.
func (h *Handler) ReadDirPlus(ctx *NFSHandlerContext, req *ReadDirPlusRequest) (*ReadDirPlusResponse, error) {
	c := h.newCall(ctx, "READDIRPLUS")
	logger.Info("READDIRPLUS: dir=%x cookie=%d dircount=%d maxcount=%d client=%s",
		req.DirHandle, req.Cookie, req.DirCount, req.MaxCount, c.clientIP)

	resp := &ReadDirPlusResponse{}
	var listing *cache.Listing

	ok := c.run(
		h.resolveObject(req.DirHandle),
		h.statObject,
		isDirectory,
		h.readListing(&listing, req.Cookie, req.CookieVerf),
	)
	if c.err != nil {
		return nil, c.err
	}

	resp.Status = c.status
	resp.DirAttr = nfsAttr(c.attr)
	if !ok {
		return resp, nil
	}
	resp.CookieVerf = cookieVerf(listing.Version)

	var dirUsed uint32
	used := uint32(readdirOverhead)
	resp.Eof = true

	for i := int(req.Cookie); i < len(listing.Entries); i++ {
		if err := c.ctx.Err(); err != nil {
			return nil, err
		}

		info := listing.Entries[i]
		dirSize := 8 + nameSize(info.Name) + 8
		size := 4 + dirSize + (4 + 84) + (4 + 4 + xdr.HandleSize)
		if used+size > req.MaxCount || dirUsed+dirSize > req.DirCount {
			resp.Eof = false
			break
		}

		attr, err := h.fs.ChildAttr(c.ctx, c.path, &info)
		if err != nil {
			c.failErr(err)
			if c.err != nil {
				return nil, c.err
			}
			resp.Status = c.status
			return resp, nil
		}
		fh, err := xdr.EncodeHandle(attr.Handle)
		if err != nil {
			resp.Status = xdr.MapErrorToNFSStatus(err, c.clientIP, c.op)
			return resp, nil
		}

		used += size
		dirUsed += dirSize
		resp.Entries = append(resp.Entries, types.DirEntryPlus{
			Fileid: xdr.FileID(path.Join(c.path, info.Name)),
			Name:   info.Name,
			Cookie: uint64(i + 1),
			Attr:   nfsAttr(attr),
			Handle: fh,
		})
	}

	if len(resp.Entries) == 0 && !resp.Eof {
		resp.Status = types.NFS3ErrTooSmall
		return resp, nil
	}

	logger.Debug("READDIRPLUS: %s returned %d of %d entries eof=%v", c.path, len(resp.Entries), len(listing.Entries), resp.Eof)
	return resp, nil
}

// DecodeReadDirPlusRequest decodes READDIRPLUS3args.
func DecodeReadDirPlusRequest(data []byte) (*ReadDirPlusRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	req := &ReadDirPlusRequest{DirHandle: handle}

	if err := binary.Read(reader, binary.BigEndian, &req.Cookie); err != nil {
		return nil, fmt.Errorf("read cookie: %w", err)
	}
	if _, err := io.ReadFull(reader, req.CookieVerf[:]); err != nil {
		return nil, fmt.Errorf("read cookie verifier: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &req.DirCount); err != nil {
		return nil, fmt.Errorf("read dircount: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &req.MaxCount); err != nil {
		return nil, fmt.Errorf("read maxcount: %w", err)
	}
	return req, nil
}

// Encode serializes READDIRPLUS3res.
func (resp *ReadDirPlusResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.DirAttr); err != nil {
		return nil, fmt.Errorf("encode dir attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	buf.Write(resp.CookieVerf[:])
	for _, e := range resp.Entries {
		if err := xdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if err := xdr.WriteUint64(&buf, e.Fileid); err != nil {
			return nil, fmt.Errorf("write fileid: %w", err)
		}
		if err := xdr.EncodeString(&buf, e.Name); err != nil {
			return nil, fmt.Errorf("encode name: %w", err)
		}
		if err := xdr.WriteUint64(&buf, e.Cookie); err != nil {
			return nil, fmt.Errorf("write cookie: %w", err)
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, e.Attr); err != nil {
			return nil, fmt.Errorf("encode entry attributes: %w", err)
		}
		if err := xdr.EncodeOptionalOpaque(&buf, e.Handle); err != nil {
			return nil, fmt.Errorf("encode entry handle: %w", err)
		}
	}
	if err := xdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	if err := xdr.WriteBool(&buf, resp.Eof); err != nil {
		return nil, fmt.Errorf("write eof: %w", err)
	}
	return buf.Bytes(), nil
}
