package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/cache"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// Readdir returns the listing of directory p, materializing it on a miss.
func (fs *FS) Readdir(ctx context.Context, p string) (*cache.Listing, error) {
	p = remote.Clean(p)

	for attempt := 0; attempt < 2; attempt++ {
		if !fs.engine.Has(p) {
			if _, err := fs.engine.CacheDirectory(ctx, p, fs.remote); err != nil {
				return nil, err
			}
		}
		listing, err := fs.engine.ReadDirectory(p)
		if errors.Is(err, cache.ErrFileNotCached) {
			continue
		}
		return listing, err
	}
	return nil, fmt.Errorf("%s: %w", p, cache.ErrFileNotCached)
}

// Read reads up to count bytes at off. eof is set when the read reached the
// end of the object.
func (fs *FS) Read(ctx context.Context, p string, off uint64, count uint32) ([]byte, bool, error) {
	p = remote.Clean(p)
	f, err := fs.openResident(ctx, p, os.O_RDONLY)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	size := uint64(fi.Size())

	buf := make([]byte, count)
	n, err := f.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	return buf[:n], size <= off+uint64(n), nil
}

// Write writes data at off into the resident copy of p and marks it dirty.
func (fs *FS) Write(ctx context.Context, p string, off uint64, data []byte) (int, error) {
	p = remote.Clean(p)
	f, err := fs.openResident(ctx, p, os.O_RDWR)
	if err != nil {
		return 0, err
	}

	n, err := f.WriteAt(data, int64(off))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Create makes an empty object at p, remotely and in the cache, and returns
// its attributes. An existing object is truncated.
func (fs *FS) Create(ctx context.Context, p string) (*Attr, error) {
	p = remote.Clean(p)

	if err := fs.remote.Put(ctx, p, strings.NewReader(""), 0); err != nil {
		return nil, err
	}

	w, err := fs.engine.BeginWrite(ctx, p, cache.WriteOptions{})
	if err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	fs.invalidateParent(p)

	return fs.Stat(ctx, p)
}

// Mkdir creates directory p and materializes its empty listing.
func (fs *FS) Mkdir(ctx context.Context, p string) (*Attr, error) {
	p = remote.Clean(p)

	if err := fs.remote.Mkdir(ctx, p); err != nil {
		return nil, err
	}
	fs.invalidateParent(p)

	if _, err := fs.engine.CacheDirectory(ctx, p, fs.remote); err != nil {
		return nil, err
	}
	return fs.Stat(ctx, p)
}

// Unlink removes object p.
func (fs *FS) Unlink(ctx context.Context, p string) error {
	p = remote.Clean(p)
	resident := fs.engine.Has(p)

	err := fs.remote.Delete(ctx, p)
	if err != nil && !(errors.Is(err, remote.ErrNotFound) && resident) {
		return err
	}
	if err := fs.engine.Remove(p); err != nil {
		return err
	}
	fs.invalidateParent(p)
	return nil
}

// Rmdir removes the empty directory p.
func (fs *FS) Rmdir(ctx context.Context, p string) error {
	p = remote.Clean(p)
	if p == "/" {
		return fmt.Errorf("rmdir /: %w", os.ErrPermission)
	}

	if err := fs.remote.Delete(ctx, p); err != nil {
		return err
	}
	if err := fs.engine.Remove(p); err != nil {
		return err
	}
	fs.invalidateParent(p)
	return nil
}

// Truncate sets the size of p.
func (fs *FS) Truncate(ctx context.Context, p string, size uint64) error {
	p = remote.Clean(p)
	f, err := fs.openResident(ctx, p, os.O_RDWR)
	if err != nil {
		return err
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return fmt.Errorf("truncate %s: %w", p, err)
	}
	return f.Close()
}

// openResident makes p resident and opens its backing file. The entry can be
// evicted between the two steps; it is then fetched once more.
func (fs *FS) openResident(ctx context.Context, p string, flag int) (*cache.File, error) {
	for attempt := 0; ; attempt++ {
		if err := fs.Ensure(ctx, p); err != nil {
			return nil, err
		}
		f, err := fs.engine.OpenFile(p, flag)
		if errors.Is(err, cache.ErrFileNotCached) && attempt == 0 {
			logger.Debug("open(%s): evicted after fetch, retrying", p)
			continue
		}
		return f, err
	}
}

// Commit syncs the resident copy of p and writes it back if it is dirty.
func (fs *FS) Commit(ctx context.Context, p string) error {
	p = remote.Clean(p)
	if !fs.engine.Has(p) {
		return nil
	}

	f, err := fs.engine.OpenFile(p, os.O_RDWR)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return fs.writeBack(ctx, p)
}

// writeBack uploads a dirty entry and marks it clean.
func (fs *FS) writeBack(ctx context.Context, p string) error {
	entry, ok := fs.engine.Get(p)
	if !ok || !entry.Dirty || entry.IsDirectory {
		return nil
	}

	r, err := fs.engine.BeginRead(p)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := fs.remote.Put(ctx, p, r, entry.Size); err != nil {
		return fmt.Errorf("write back %s: %w", p, err)
	}
	logger.Debug("write back %s: %d bytes", p, entry.Size)

	return fs.engine.MarkClean(p, entry.Version)
}

// FsStat reports the capacity of the cache filesystem.
func (fs *FS) FsStat() (cache.FSStat, error) {
	return cache.StatFS(fs.engine.Location())
}
