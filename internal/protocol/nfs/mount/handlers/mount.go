package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/rpc"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	nfsxdr "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
	"github.com/TritonDataCenter/manta-nfs/pkg/registry"
)

// MountRequest is the dirpath argument of MNT.
type MountRequest struct {
	DirPath string
}

// MountResponse is fhstatus3 (or fhstatus for version 1).
type MountResponse struct {
	MountResponseBase
	FileHandle  []byte
	AuthFlavors []int32

	// version selects the reply layout.
	version uint32
}

// okReply is the MNT3_OK arm of fhstatus3.
type okReply struct {
	Status      uint32
	FileHandle  []byte
	AuthFlavors []int32
}

// Mount handles MNT.
//
//  1. Normalize the path. Empty or relative paths are NOENT, paths longer
//     than MNTPATHLEN are NAMETOOLONG.
//  2. Check the export table (NOENT when not exported).
//  3. Ask the remote store about the path: a failure is SERVERFAULT, a
//     plain object is NOTDIR.
//  4. Materialize the directory and allocate its handle.
//  5. Record the mount for DUMP.
func (h *Handler) Mount(ctx *MountHandlerContext, req *MountRequest) (*MountResponse, error) {
	c := ctx.GetContext()
	clientIP := nfsxdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("MOUNT MNT: path=%s client=%s auth=%s", req.DirPath, clientIP, authFlavorName(ctx.AuthFlavor))

	resp := &MountResponse{version: ctx.Version}

	p, ok := registry.NormalizePath(req.DirPath)
	if !ok {
		logger.Warn("MOUNT MNT: invalid path %q client=%s", req.DirPath, clientIP)
		resp.Status = MountErrNoEnt
		return resp, nil
	}
	if len(p) > types.MaxPathLen {
		resp.Status = MountErrNameTooLong
		return resp, nil
	}
	if !h.reg.IsExported(p) {
		logger.Warn("MOUNT MNT: %s is not exported client=%s", p, clientIP)
		resp.Status = MountErrNoEnt
		return resp, nil
	}

	fs := h.reg.FS()

	info, err := fs.Info(c, p)
	if err != nil {
		if isCancelled(err) {
			return nil, err
		}
		logger.Warn("MOUNT MNT: info(%s) failed: %v", p, err)
		resp.Status = MountErrServerFault
		return resp, nil
	}
	if !info.IsDirectory {
		logger.Warn("MOUNT MNT: %s is not a directory client=%s", p, clientIP)
		resp.Status = MountErrNotDir
		return resp, nil
	}

	if _, err := fs.Stat(c, p); err != nil {
		if isCancelled(err) {
			return nil, err
		}
		logger.Warn("MOUNT MNT: failed to stat %s: %v", p, err)
		resp.Status = MountErrServerFault
		return resp, nil
	}

	handle, err := fs.Handle(c, p)
	if err != nil {
		if isCancelled(err) {
			return nil, err
		}
		logger.Warn("MOUNT MNT: failed to lookup %s: %v", p, err)
		resp.Status = MountErrServerFault
		return resp, nil
	}
	fh, err := nfsxdr.EncodeHandle(handle)
	if err != nil {
		logger.Error("MOUNT MNT: bad handle %q for %s: %v", handle, p, err)
		resp.Status = MountErrServerFault
		return resp, nil
	}

	h.reg.RecordMount(clientIP, p, time.Now())

	resp.FileHandle = fh
	resp.AuthFlavors = []int32{int32(rpc.AuthUnix), int32(rpc.AuthNull)}
	logger.Info("MOUNT MNT: %s mounted by %s -> %s", p, clientIP, handle)
	return resp, nil
}

// DecodeMountRequest decodes dirpath.
func DecodeMountRequest(data []byte) (*MountRequest, error) {
	req := &MountRequest{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), req); err != nil {
		return nil, fmt.Errorf("unmarshal mount request: %w", err)
	}
	return req, nil
}

// Encode serializes fhstatus3. Versions 1 and 2 use fhstatus, whose handle
// is a fixed 32-byte opaque.
func (resp *MountResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if resp.Status != MountOK {
		if _, err := xdr.Marshal(&buf, resp.Status); err != nil {
			return nil, fmt.Errorf("marshal status: %w", err)
		}
		return buf.Bytes(), nil
	}

	if resp.version < rpc.MountVersion3 {
		var fixed [fhandleV1Size]byte
		copy(fixed[:], resp.FileHandle)
		if _, err := xdr.Marshal(&buf, &struct {
			Status uint32
			Handle [fhandleV1Size]byte
		}{resp.Status, fixed}); err != nil {
			return nil, fmt.Errorf("marshal fhstatus: %w", err)
		}
		return buf.Bytes(), nil
	}

	if _, err := xdr.Marshal(&buf, &okReply{
		Status:      resp.Status,
		FileHandle:  resp.FileHandle,
		AuthFlavors: resp.AuthFlavors,
	}); err != nil {
		return nil, fmt.Errorf("marshal fhstatus3: %w", err)
	}
	return buf.Bytes(), nil
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func authFlavorName(flavor uint32) string {
	switch flavor {
	case rpc.AuthNull:
		return "NULL"
	case rpc.AuthUnix:
		return "UNIX"
	case rpc.AuthShort:
		return "SHORT"
	case rpc.AuthDES:
		return "DES"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", flavor)
	}
}
