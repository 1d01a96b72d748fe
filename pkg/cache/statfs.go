package cache

import (
	"golang.org/x/sys/unix"
)

// FSStat is the capacity of the filesystem holding the cache.
type FSStat struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
}

// StatFS probes the filesystem that contains path.
func StatFS(path string) (FSStat, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FSStat{}, err
	}
	bsize := uint64(st.Bsize)
	return FSStat{
		TotalBytes: uint64(st.Blocks) * bsize,
		FreeBytes:  uint64(st.Bfree) * bsize,
		AvailBytes: uint64(st.Bavail) * bsize,
		TotalFiles: uint64(st.Files),
		FreeFiles:  uint64(st.Ffree),
	}, nil
}
