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

// ReadDirRequest is READDIR3args.
type ReadDirRequest struct {
	DirHandle  []byte
	Cookie     uint64
	CookieVerf [8]byte
	Count      uint32
}

// ReadDirResponse is READDIR3res.
type ReadDirResponse struct {
	NFSResponseBase
	DirAttr    *types.NFSFileAttr
	CookieVerf [8]byte
	Entries    []types.DirEntry
	Eof        bool
}

// Fixed parts of a READDIR3resok: status, post_op_attr, cookieverf, the
// list terminator and eof.
const readdirOverhead = 4 + (4 + 84) + 8 + 4 + 4

// cookieVerf encodes a listing version as a cookie verifier.
func cookieVerf(version uint64) [8]byte {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], version)
	return v
}

// nameSize is the XDR size of a filename3.
func nameSize(name string) uint32 {
	n := uint32(len(name))
	return 4 + n + (4-n%4)%4
}

// ReadDir lists a directory (RFC 1813 Section 3.3.16).
//
// The listing comes from the materialized snapshot. Entry i carries cookie
// i+1 and a fileid hashed from its full path. The verifier is the listing
// version, which changes every time the directory is re-materialized, so a
// client continuing an old listing gets BAD_COOKIE.
func (h *Handler) ReadDir(ctx *NFSHandlerContext, req *ReadDirRequest) (*ReadDirResponse, error) {
	c := h.newCall(ctx, "READDIR")
	logger.Info("READDIR: dir=%x cookie=%d count=%d client=%s", req.DirHandle, req.Cookie, req.Count, c.clientIP)

	resp := &ReadDirResponse{}
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

	used := uint32(readdirOverhead)
	resp.Eof = true
	for i := int(req.Cookie); i < len(listing.Entries); i++ {
		name := listing.Entries[i].Name
		size := 4 + 8 + nameSize(name) + 8
		if used+size > req.Count {
			resp.Eof = false
			break
		}
		used += size
		resp.Entries = append(resp.Entries, types.DirEntry{
			Fileid: xdr.FileID(path.Join(c.path, name)),
			Name:   name,
			Cookie: uint64(i + 1),
		})
	}

	if len(resp.Entries) == 0 && !resp.Eof {
		resp.Status = types.NFS3ErrTooSmall
		return resp, nil
	}

	logger.Debug("READDIR: %s returned %d of %d entries eof=%v", c.path, len(resp.Entries), len(listing.Entries), resp.Eof)
	return resp, nil
}

func isDirectory(c *call) bool {
	if !c.attr.IsDir {
		return c.fail(types.NFS3ErrNotDir)
	}
	return true
}

// readListing loads the directory snapshot and checks the client's
// continuation against it.
func (h *Handler) readListing(out **cache.Listing, cookie uint64, verf [8]byte) stage {
	return func(c *call) bool {
		listing, err := h.fs.Readdir(c.ctx, c.path)
		if err != nil {
			return c.failErr(err)
		}
		if cookie != 0 && verf != cookieVerf(listing.Version) {
			logger.Debug("%s: stale cookie verifier for %s", c.op, c.path)
			return c.fail(types.NFS3ErrBadCookie)
		}
		if cookie > uint64(len(listing.Entries)) {
			return c.fail(types.NFS3ErrBadCookie)
		}
		*out = listing
		return true
	}
}

// DecodeReadDirRequest decodes READDIR3args.
func DecodeReadDirRequest(data []byte) (*ReadDirRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	req := &ReadDirRequest{DirHandle: handle}

	if err := binary.Read(reader, binary.BigEndian, &req.Cookie); err != nil {
		return nil, fmt.Errorf("read cookie: %w", err)
	}
	if _, err := io.ReadFull(reader, req.CookieVerf[:]); err != nil {
		return nil, fmt.Errorf("read cookie verifier: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &req.Count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	return req, nil
}

// Encode serializes READDIR3res.
func (resp *ReadDirResponse) Encode() ([]byte, error) {
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
	}
	if err := xdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	if err := xdr.WriteBool(&buf, resp.Eof); err != nil {
		return nil, fmt.Errorf("write eof: %w", err)
	}
	return buf.Bytes(), nil
}
