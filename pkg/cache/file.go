package cache

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// File is a descriptor on the backing file of a resident object, used for
// positioned reads and writes. The entry stays pinned until Close.
type File struct {
	e     *Engine
	name  string
	entry *Entry
	file  *os.File

	mu       sync.Mutex
	modified bool
	once     sync.Once
}

// OpenFile opens the backing file of p with flag (os.O_RDONLY or os.O_RDWR).
func (e *Engine) OpenFile(p string, flag int) (*File, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	p = remote.Clean(p)

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.lookupLocked(p)
	if !ok {
		e.metrics.RecordMiss()
		return nil, fmt.Errorf("%s: %w", p, ErrFileNotCached)
	}
	if pend, busy := e.pending[p]; busy && pend.writing {
		return nil, fmt.Errorf("%s: %w", p, ErrWriteInProgress)
	}

	f, err := os.OpenFile(entry.Path, flag&(os.O_RDONLY|os.O_WRONLY|os.O_RDWR), 0)
	if err != nil {
		return nil, fmt.Errorf("open backing file of %s: %w", p, err)
	}

	e.metrics.RecordHit()
	e.pendLocked(p).opens++
	return &File{e: e, name: p, entry: entry, file: f}, nil
}

// Name returns the logical path.
func (f *File) Name() string { return f.name }

func (f *File) ReadAt(b []byte, off int64) (int, error) {
	return f.file.ReadAt(b, off)
}

// WriteAt writes at off and marks the entry dirty.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	n, err := f.file.WriteAt(b, off)
	if n > 0 {
		f.mu.Lock()
		f.modified = true
		f.mu.Unlock()
	}
	return n, err
}

// Truncate changes the size of the backing file and marks the entry dirty.
func (f *File) Truncate(size int64) error {
	if err := f.file.Truncate(size); err != nil {
		return err
	}
	f.mu.Lock()
	f.modified = true
	f.mu.Unlock()
	return nil
}

func (f *File) Sync() error {
	return f.file.Sync()
}

func (f *File) Stat() (os.FileInfo, error) {
	return f.file.Stat()
}

// Close releases the descriptor. When the file was modified the entry's size
// and dirty flag are updated and persisted, and the budgets are enforced.
func (f *File) Close() error {
	var err error
	f.once.Do(func() {
		f.mu.Lock()
		modified := f.modified
		f.mu.Unlock()

		var size int64
		if modified {
			if fi, statErr := f.file.Stat(); statErr == nil {
				size = fi.Size()
			} else {
				err = statErr
				modified = false
			}
		}
		if closeErr := f.file.Close(); err == nil {
			err = closeErr
		}

		e := f.e
		e.mu.Lock()
		if pend, ok := e.pending[f.name]; ok && pend.opens > 0 {
			pend.opens--
		}
		if modified {
			if perr := e.resizeLocked(f.name, f.entry, size, true); perr != nil && err == nil {
				err = perr
			}
		}
		e.releaseLocked(f.name)
		if modified {
			e.settleLocked()
		}
		e.mu.Unlock()
	})
	return err
}

// resizeLocked records a new size and dirty state for entry, if it is still
// the resident entry for name.
func (e *Engine) resizeLocked(name string, entry *Entry, size int64, dirty bool) error {
	cur, ok := e.lru.Peek(name)
	if !ok || cur.(*Entry) != entry {
		logger.Debug("cache: %s changed while open, dropping size update", name)
		return nil
	}
	e.size += size - entry.Size
	entry.Size = size
	if dirty {
		entry.Dirty = true
		entry.Version = e.nextVersion()
	}
	e.metrics.SetResident(e.lru.Len(), e.size)
	return e.persist(context.Background(), entry)
}

// Truncate sets the size of the backing file of p and marks it dirty.
func (e *Engine) Truncate(p string, size int64) error {
	f, err := e.OpenFile(p, os.O_RDWR)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return fmt.Errorf("truncate %s: %w", f.name, err)
	}
	return f.Close()
}

// MarkClean clears the dirty flag of p after its content was written back.
// version must match the entry that was uploaded; a later local write bumps
// the version and keeps the entry dirty.
func (e *Engine) MarkClean(p string, version uint64) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	p = remote.Clean(p)

	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.lru.Peek(p)
	if !ok {
		return nil
	}
	entry := v.(*Entry)
	if entry.Version != version || !entry.Dirty {
		return nil
	}
	entry.Dirty = false
	err := e.persist(context.Background(), entry)
	e.settleLocked()
	return err
}

// DirtyEntries returns copies of every entry holding unflushed local writes.
func (e *Engine) DirtyEntries() []Entry {
	if e.checkReady() != nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Entry
	for _, k := range e.lru.Keys() {
		if v, ok := e.lru.Peek(k); ok && v.(*Entry).Dirty {
			out = append(out, *v.(*Entry))
		}
	}
	return out
}
