// Package vfs is the filesystem the NFS handlers operate on. It joins the
// disk cache with the remote store: objects are materialized on first use,
// local writes are marked dirty and written back on commit, and mutations
// invalidate the cached listing of the parent directory.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/cache"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

const (
	DefaultUID      = 65534
	DefaultGID      = 65534
	DefaultDirMode  = 0755
	DefaultFileMode = 0644

	flushConcurrency = 4
)

// Config sets the ownership and permissions reported for every object.
type Config struct {
	UID      uint32
	GID      uint32
	DirMode  os.FileMode
	FileMode os.FileMode
}

func (c *Config) applyDefaults() {
	if c.UID == 0 {
		c.UID = DefaultUID
	}
	if c.GID == 0 {
		c.GID = DefaultGID
	}
	if c.DirMode == 0 {
		c.DirMode = DefaultDirMode
	}
	if c.FileMode == 0 {
		c.FileMode = DefaultFileMode
	}
}

// Attr describes one object as the NFS layer sees it.
type Attr struct {
	Path   string
	Handle string

	Size  uint64
	Mode  os.FileMode
	IsDir bool
	UID   uint32
	GID   uint32

	ModTime    time.Time
	AccessTime time.Time
	ChangeTime time.Time

	// Resident is false for attributes served from remote metadata alone.
	Resident bool
	Dirty    bool
	Version  uint64
	ETag     string
}

// FS is the gateway filesystem.
type FS struct {
	engine *cache.Engine
	remote remote.Store
	cfg    Config

	fetches singleflight.Group
}

// New returns a filesystem over engine and store.
func New(engine *cache.Engine, store remote.Store, cfg Config) *FS {
	cfg.applyDefaults()
	return &FS{engine: engine, remote: store, cfg: cfg}
}

// Engine exposes the underlying cache.
func (fs *FS) Engine() *cache.Engine { return fs.engine }

// Remote exposes the underlying remote store.
func (fs *FS) Remote() remote.Store { return fs.remote }

// Handle returns the file handle of p, allocating one if needed.
func (fs *FS) Handle(ctx context.Context, p string) (string, error) {
	return fs.engine.PathToHandle(ctx, p)
}

// Resolve returns the logical path of a file handle.
func (fs *FS) Resolve(ctx context.Context, handle string) (string, error) {
	return fs.engine.HandleToPath(ctx, handle)
}

// Info returns the remote metadata of p.
func (fs *FS) Info(ctx context.Context, p string) (*remote.Info, error) {
	return fs.remote.Info(ctx, remote.Clean(p))
}

func (fs *FS) attrFromCache(a *cache.Attr) *Attr {
	attr := &Attr{
		Path:       a.Name,
		Handle:     a.Handle,
		Size:       uint64(a.Size),
		IsDir:      a.IsDirectory,
		UID:        fs.cfg.UID,
		GID:        fs.cfg.GID,
		ModTime:    a.ModTime,
		AccessTime: a.ModTime,
		ChangeTime: a.ModTime,
		Resident:   true,
		Dirty:      a.Dirty,
		Version:    a.Version,
		ETag:       a.ETag,
	}
	attr.Mode = fs.cfg.FileMode
	if attr.IsDir {
		attr.Mode = fs.cfg.DirMode
	}
	return attr
}

func (fs *FS) attrFromInfo(ctx context.Context, p string, info *remote.Info) (*Attr, error) {
	h, err := fs.engine.PathToHandle(ctx, p)
	if err != nil {
		return nil, err
	}
	mtime := info.ModTime
	if mtime.IsZero() {
		mtime = time.Unix(0, 0)
	}
	attr := &Attr{
		Path:       p,
		Handle:     h,
		Size:       info.Size,
		IsDir:      info.IsDirectory,
		UID:        fs.cfg.UID,
		GID:        fs.cfg.GID,
		ModTime:    mtime,
		AccessTime: mtime,
		ChangeTime: mtime,
		ETag:       info.ETag,
	}
	attr.Mode = fs.cfg.FileMode
	if attr.IsDir {
		attr.Mode = fs.cfg.DirMode
	}
	return attr, nil
}

// Stat returns the attributes of p. Resident objects are stat'ed on disk.
// A directory miss materializes its listing; a plain file miss is answered
// from remote metadata without downloading.
func (fs *FS) Stat(ctx context.Context, p string) (*Attr, error) {
	p = remote.Clean(p)

	if err := fs.engine.WaitWrite(ctx, p); err != nil {
		return nil, err
	}
	a, err := fs.engine.Stat(p)
	if err == nil {
		return fs.attrFromCache(a), nil
	}
	if !errors.Is(err, cache.ErrFileNotCached) {
		return nil, err
	}

	info, err := fs.remote.Info(ctx, p)
	if err != nil {
		return nil, err
	}
	if !info.IsDirectory {
		return fs.attrFromInfo(ctx, p, info)
	}

	if _, err := fs.engine.CacheDirectory(ctx, p, fs.remote); err != nil {
		return nil, err
	}
	a, err = fs.engine.Stat(p)
	if err != nil {
		return nil, err
	}
	return fs.attrFromCache(a), nil
}

// StatCached returns attributes only if p is resident. It never touches the
// remote store.
func (fs *FS) StatCached(ctx context.Context, p string) (*Attr, bool) {
	a, err := fs.engine.Stat(remote.Clean(p))
	if err != nil {
		return nil, false
	}
	return fs.attrFromCache(a), true
}

// ChildAttr returns attributes for a listing record of directory dir,
// preferring the resident copy when there is one.
func (fs *FS) ChildAttr(ctx context.Context, dir string, info *remote.Info) (*Attr, error) {
	p := path.Join(remote.Clean(dir), info.Name)
	if attr, ok := fs.StatCached(ctx, p); ok {
		return attr, nil
	}
	return fs.attrFromInfo(ctx, p, info)
}

// Ensure makes p resident, fetching it from the remote store on a miss.
// Concurrent misses on one path share a single fetch. The fetch is detached
// from the caller that started it, so a client going away does not fail the
// others waiting on the same path; each caller stops waiting when its own
// ctx ends.
func (fs *FS) Ensure(ctx context.Context, p string) error {
	p = remote.Clean(p)
	for attempt := 0; attempt < 3; attempt++ {
		if err := fs.engine.WaitWrite(ctx, p); err != nil {
			return err
		}
		if fs.engine.Has(p) {
			return nil
		}

		ch := fs.fetches.DoChan(p, func() (any, error) {
			return nil, fs.fetch(context.WithoutCancel(ctx), p)
		})
		var err error
		select {
		case res := <-ch:
			err = res.Err
		case <-ctx.Done():
			return ctx.Err()
		}
		if errors.Is(err, cache.ErrWriteInProgress) {
			continue
		}
		if err != nil {
			return err
		}
		if fs.engine.Has(p) {
			return nil
		}
		// The object went through the discarding stream.
		return fmt.Errorf("%s: %w", p, cache.ErrNotEnoughSpace)
	}
	return fmt.Errorf("%s: %w", p, cache.ErrWriteInProgress)
}

func (fs *FS) fetch(ctx context.Context, p string) error {
	if fs.engine.Has(p) {
		return nil
	}
	info, err := fs.remote.Info(ctx, p)
	if err != nil {
		return err
	}
	if info.IsDirectory {
		_, err := fs.engine.CacheDirectory(ctx, p, fs.remote)
		return err
	}

	logger.Debug("fetch(%s): %d bytes from remote", p, info.Size)

	body, err := fs.remote.Get(ctx, p)
	if err != nil {
		return err
	}
	defer body.Close()

	w, err := fs.engine.BeginWrite(ctx, p, cache.WriteOptions{
		Size: int64(info.Size),
		ETag: info.ETag,
		MD5:  info.MD5,
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, body); err != nil {
		w.Abort(err)
		return fmt.Errorf("fetch %s: %w", p, err)
	}
	return w.Close()
}

// invalidateParent drops the cached listing of p's parent directory.
func (fs *FS) invalidateParent(p string) {
	dir := path.Dir(p)
	if err := fs.engine.Remove(dir); err != nil {
		logger.Warn("invalidate listing %s: %v", dir, err)
	}
}

// Flush writes every dirty entry back to the remote store.
func (fs *FS) Flush(ctx context.Context) error {
	dirty := fs.engine.DirtyEntries()
	if len(dirty) == 0 {
		return nil
	}
	logger.Info("flushing %d dirty entries", len(dirty))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flushConcurrency)
	for _, entry := range dirty {
		name := entry.Name
		g.Go(func() error {
			return fs.writeBack(gctx, name)
		})
	}
	return g.Wait()
}

// WriteBack flushes dirty entries every interval until ctx is done. WRITE
// replies FILE_SYNC, so most clients never send COMMIT and this loop is
// what moves their data to the remote store.
func (fs *FS) WriteBack(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fs.Flush(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("periodic write-back: %v", err)
			}
		}
	}
}
