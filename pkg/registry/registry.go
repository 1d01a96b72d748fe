// Package registry is the explicit composition-root registry of the
// gateway. It owns the export table, the table of active mounts and the
// filesystem the protocol handlers operate on.
package registry

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/TritonDataCenter/manta-nfs/pkg/vfs"
)

// MountInfo represents an active mount from a client.
type MountInfo struct {
	ClientAddr string // Client IP address
	Directory  string // Mounted path
	MountTime  time.Time
}

type mountKey struct {
	client string
	dir    string
}

// Registry is safe for concurrent use.
//
// Example usage:
//
//	reg := registry.New(fs)
//	reg.AddExport("/user/stor")
//
//	if reg.IsExported("/user/stor/project") { ... }
type Registry struct {
	fs *vfs.FS

	mu      sync.RWMutex
	exports map[string]struct{}
	mounts  map[mountKey]*MountInfo
}

// New creates a registry serving fs with an empty export table, which
// allows every path to be mounted.
func New(fs *vfs.FS) *Registry {
	return &Registry{
		fs:      fs,
		exports: make(map[string]struct{}),
		mounts:  make(map[mountKey]*MountInfo),
	}
}

// FS returns the filesystem shared by all adapters.
func (r *Registry) FS() *vfs.FS {
	return r.fs
}

// NormalizePath cleans an absolute export or mount path. It returns false
// for empty or relative paths.
func NormalizePath(p string) (string, bool) {
	if p == "" || !strings.HasPrefix(p, "/") {
		return "", false
	}
	return path.Clean(p), true
}

// AddExport adds p to the export table.
func (r *Registry) AddExport(p string) error {
	clean, ok := NormalizePath(p)
	if !ok {
		return fmt.Errorf("export %q: path must be absolute", p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.exports[clean]; exists {
		return fmt.Errorf("export %q already registered", clean)
	}
	r.exports[clean] = struct{}{}
	return nil
}

// Exports returns the export table in sorted order. An empty table is
// reported as a single "/" export.
func (r *Registry) Exports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.exports) == 0 {
		return []string{"/"}
	}
	out := make([]string, 0, len(r.exports))
	for p := range r.exports {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// IsExported reports whether the normalized path p is an export or lies
// below one.
func (r *Registry) IsExported(p string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.exports) == 0 {
		return true
	}
	for e := range r.exports {
		if p == e || e == "/" || strings.HasPrefix(p, e+"/") {
			return true
		}
	}
	return false
}

// ============================================================================
// Mount Tracking
// ============================================================================

// RecordMount registers that a client has mounted dir.
func (r *Registry) RecordMount(clientAddr, dir string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mounts[mountKey{clientAddr, dir}] = &MountInfo{
		ClientAddr: clientAddr,
		Directory:  dir,
		MountTime:  at,
	}
}

// RemoveMount removes the mount record of dir for the given client.
// Returns true if a mount was removed.
func (r *Registry) RemoveMount(clientAddr, dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mountKey{clientAddr, dir}
	if _, exists := r.mounts[key]; exists {
		delete(r.mounts, key)
		return true
	}
	return false
}

// RemoveAllMounts removes every mount record of the client and returns how
// many were removed.
func (r *Registry) RemoveAllMounts(clientAddr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for key := range r.mounts {
		if key.client == clientAddr {
			delete(r.mounts, key)
			count++
		}
	}
	return count
}

// ListMounts returns a copy of all active mount records ordered by client
// and directory.
func (r *Registry) ListMounts() []MountInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mounts := make([]MountInfo, 0, len(r.mounts))
	for _, m := range r.mounts {
		mounts = append(mounts, *m)
	}
	slices.SortFunc(mounts, func(a, b MountInfo) int {
		if c := strings.Compare(a.ClientAddr, b.ClientAddr); c != 0 {
			return c
		}
		return strings.Compare(a.Directory, b.Directory)
	})
	return mounts
}
