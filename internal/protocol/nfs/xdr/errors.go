package xdr

import (
	"errors"
	"os"
	"syscall"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	"github.com/TritonDataCenter/manta-nfs/pkg/cache"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// errnoTable maps POSIX conditions to nfsstat3. Cache and remote sentinels
// wrap the matching errno, so errors.Is finds them here too.
var errnoTable = []struct {
	target error
	status uint32
}{
	{syscall.ENOENT, types.NFS3ErrNoEnt},
	{os.ErrNotExist, types.NFS3ErrNoEnt},
	{syscall.ENOTDIR, types.NFS3ErrNotDir},
	{syscall.ENOTEMPTY, types.NFS3ErrNotEmpty},
	{syscall.EACCES, types.NFS3ErrAcces},
	{syscall.EPERM, types.NFS3ErrAcces},
	{os.ErrPermission, types.NFS3ErrAcces},
	{syscall.EEXIST, types.NFS3ErrExist},
	{os.ErrExist, types.NFS3ErrExist},
	{syscall.EISDIR, types.NFS3ErrIsDir},
	{syscall.ENOSPC, types.NFS3ErrNoSpc},
	{syscall.ENAMETOOLONG, types.NFS3ErrNameTooLong},
}

// MapErrorToNFSStatus maps a gateway error to the nearest NFSv3 status.
// Anything not in the table, including a busy entry, is a server fault.
//
// Client errors are logged at WARN, server faults at ERROR.
func MapErrorToNFSStatus(err error, clientIP string, operation string) uint32 {
	if err == nil {
		return types.NFS3OK
	}

	if errors.Is(err, cache.ErrUnknownHandle) {
		logger.Warn("%s failed: %v client=%s", operation, err, clientIP)
		return types.NFS3ErrStale
	}

	for _, e := range errnoTable {
		if errors.Is(err, e.target) {
			logger.Warn("%s failed: %v client=%s", operation, err, clientIP)
			return e.status
		}
	}

	logger.Error("%s failed: %v client=%s", operation, err, clientIP)
	return types.NFS3ErrServerFault
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, cache.ErrFileNotCached) ||
		errors.Is(err, remote.ErrNotFound)
}
