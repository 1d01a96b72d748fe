package xdr

import (
	"github.com/cespare/xxhash/v2"

	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/pkg/vfs"
)

// FSID is reported for every object. The gateway exports one filesystem.
var FSID = xxhash.Sum64String("manta-nfs")

// FileID returns the fileid of a logical path. It is a hash of the full
// path so that repeated listings and GETATTR calls agree without storing
// inode numbers anywhere.
func FileID(p string) uint64 {
	return xxhash.Sum64String(p)
}

// AttrToNFS converts gateway attributes to fattr3.
func AttrToNFS(attr *vfs.Attr) *types.NFSFileAttr {
	if attr == nil {
		return nil
	}

	nfsAttr := &types.NFSFileAttr{
		Type:   types.FileTypeRegular,
		Mode:   uint32(attr.Mode.Perm()),
		Nlink:  1,
		UID:    attr.UID,
		GID:    attr.GID,
		Size:   attr.Size,
		Used:   attr.Size,
		Fsid:   FSID,
		Fileid: FileID(attr.Path),
		Atime:  TimeToTimeVal(attr.AccessTime),
		Mtime:  TimeToTimeVal(attr.ModTime),
		Ctime:  TimeToTimeVal(attr.ChangeTime),
	}
	if attr.IsDir {
		nfsAttr.Type = types.FileTypeDirectory
		nfsAttr.Nlink = 2
	}
	return nfsAttr
}

// CaptureWccAttr extracts the pre-operation subset of attr for wcc_data.
// A nil attr yields nil, which encodes as "not present".
func CaptureWccAttr(attr *vfs.Attr) *types.WccAttr {
	if attr == nil {
		return nil
	}
	return &types.WccAttr{
		Size:  attr.Size,
		Mtime: TimeToTimeVal(attr.ModTime),
		Ctime: TimeToTimeVal(attr.ChangeTime),
	}
}
