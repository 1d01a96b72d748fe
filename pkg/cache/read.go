package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// lookupLocked returns the resident entry for name and marks it recently
// used. An expired entry counts as absent and is evicted unless pinned;
// dirty entries never expire.
func (e *Engine) lookupLocked(name string) (*Entry, bool) {
	v, ok := e.lru.Get(name)
	if !ok {
		return nil, false
	}
	entry := v.(*Entry)
	if entry.expired(e.now()) && !entry.Dirty {
		if !e.pinnedLocked(name, entry) {
			e.evictLocked(name, entry, "expired")
		}
		return nil, false
	}
	return entry, true
}

// Has reports whether p is resident and unexpired.
func (e *Engine) Has(p string) bool {
	if e.checkReady() != nil {
		return false
	}
	p = remote.Clean(p)

	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.lru.Peek(p)
	if !ok {
		return false
	}
	entry := v.(*Entry)
	return entry.Dirty || !entry.expired(e.now())
}

// Get returns a copy of the resident entry for p.
func (e *Engine) Get(p string) (Entry, bool) {
	if e.checkReady() != nil {
		return Entry{}, false
	}
	p = remote.Clean(p)

	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.lookupLocked(p)
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Attr is what Stat reports for a resident object.
type Attr struct {
	Entry

	// Size and ModTime come from the backing file.
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// Stat stats the backing file of p and overlays the cached metadata.
func (e *Engine) Stat(p string) (*Attr, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	p = remote.Clean(p)

	e.mu.Lock()
	entry, ok := e.lookupLocked(p)
	if !ok {
		e.mu.Unlock()
		e.metrics.RecordMiss()
		return nil, fmt.Errorf("%s: %w", p, ErrFileNotCached)
	}
	snapshot := *entry
	e.mu.Unlock()
	e.metrics.RecordHit()

	fi, err := os.Stat(snapshot.Path)
	if err != nil {
		return nil, fmt.Errorf("stat backing file of %s: %w", p, err)
	}

	attr := &Attr{
		Entry:   snapshot,
		Size:    fi.Size(),
		Mode:    fi.Mode().Perm(),
		ModTime: fi.ModTime(),
	}
	if snapshot.IsDirectory {
		attr.Mode |= os.ModeDir
	}
	return attr, nil
}

// Reader is a read stream over a resident object.
type Reader struct {
	e    *Engine
	name string
	file *os.File
	once sync.Once
}

// BeginRead opens a read stream for p. Concurrent readers are allowed. A
// read error drops the entry, since the backing file can no longer be trusted.
func (e *Engine) BeginRead(p string) (*Reader, error) {
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

	f, err := os.Open(entry.Path)
	if err != nil {
		logger.Warn("createReadStream(%s): open %s: %v", p, entry.Path, err)
		e.evictLocked(p, entry, "corrupt")
		return nil, fmt.Errorf("open backing file of %s: %w", p, err)
	}

	e.metrics.RecordHit()
	e.pendLocked(p).reads++
	logger.Debug("createReadStream(%s): entered", p)
	return &Reader{e: e, name: p, file: f}, nil
}

func (r *Reader) Read(b []byte) (int, error) {
	n, err := r.file.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		r.corrupt(err)
	}
	return n, err
}

func (r *Reader) ReadAt(b []byte, off int64) (int, error) {
	n, err := r.file.ReadAt(b, off)
	if err != nil && !errors.Is(err, io.EOF) {
		r.corrupt(err)
	}
	return n, err
}

// corrupt drops the entry after a failed read of its backing file.
func (r *Reader) corrupt(err error) {
	e := r.e
	logger.Warn("createReadStream(%s): read failed, dropping entry: %v", r.name, err)

	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.lru.Peek(r.name); ok {
		e.evictLocked(r.name, v.(*Entry), "corrupt")
	}
}

// Close releases the backing file and the pending read.
func (r *Reader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.file.Close()

		e := r.e
		e.mu.Lock()
		if pend, ok := e.pending[r.name]; ok && pend.reads > 0 {
			pend.reads--
			e.releaseLocked(r.name)
		}
		e.mu.Unlock()
	})
	return err
}
