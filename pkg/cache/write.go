package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
)

// WriteOptions describe the object a write stream materializes.
type WriteOptions struct {
	// Size is the expected number of bytes. It decides eviction up front and
	// whether the object is cached at all.
	Size int64

	// TTL overrides the engine default.
	TTL time.Duration

	IsDirectory bool

	// Dirty marks content that exists only locally and must be written back.
	Dirty bool

	ETag string
	MD5  string
}

// Writer is a write stream into the cache. Close commits the object; Abort
// discards it. Flushed is closed after a successful Close.
type Writer struct {
	e     *Engine
	name  string
	entry *Entry
	file  *os.File

	// discard is set for objects larger than the whole budget.
	discard bool

	written int64
	once    sync.Once
	err     error
	flushed chan struct{}
}

// BeginWrite opens a write stream for logical path p.
//
// It fails with ErrWriteInProgress if a write is pending for p, or if a read
// or open descriptor is pending and the object is not a directory. An object
// larger than the byte budget gets a stream that discards its bytes.
func (e *Engine) BeginWrite(ctx context.Context, p string, opts WriteOptions) (*Writer, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if opts.Size < 0 {
		return nil, fmt.Errorf("begin write %s: negative size %d", p, opts.Size)
	}
	p = remote.Clean(p)
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = e.ttl
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if pend, ok := e.pending[p]; ok {
		if pend.writing || (!opts.IsDirectory && (pend.reads > 0 || pend.opens > 0)) {
			e.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", p, ErrWriteInProgress)
		}
	}

	pend := e.pendLocked(p)
	pend.writing = true
	pend.done = make(chan struct{})

	if opts.Size > e.maxSize {
		if v, ok := e.lru.Peek(p); ok {
			e.evictLocked(p, v.(*Entry), "replace")
		}
		e.mu.Unlock()
		logger.Debug("createWriteStream(%s): %d bytes exceeds budget %d, discarding", p, opts.Size, e.maxSize)
		return &Writer{e: e, name: p, discard: true, flushed: make(chan struct{})}, nil
	}

	if v, ok := e.lru.Peek(p); ok {
		e.evictLocked(p, v.(*Entry), "replace")
	}
	e.makeRoomLocked(opts.Size, 1)
	e.reservedFiles++
	e.reservedSize += opts.Size
	version := e.nextVersion()
	e.mu.Unlock()

	entry := &Entry{
		Name:        p,
		Path:        filepath.Join(e.location, uuid.NewString()),
		Size:        opts.Size,
		Expire:      e.now().Add(ttl).UnixMilli(),
		Dirty:       opts.Dirty,
		IsDirectory: opts.IsDirectory,
		ETag:        opts.ETag,
		MD5:         opts.MD5,
		Version:     version,
	}

	if err := e.recordEntry(ctx, entry); err != nil {
		e.mu.Lock()
		e.unreserveLocked(opts.Size)
		e.endWriteLocked(p)
		e.mu.Unlock()
		return nil, err
	}

	f, err := os.OpenFile(entry.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		e.dropRecord(p)
		e.mu.Lock()
		e.unreserveLocked(opts.Size)
		e.endWriteLocked(p)
		e.mu.Unlock()
		return nil, fmt.Errorf("open backing file for %s: %w", p, err)
	}

	e.mu.Lock()
	e.unreserveLocked(opts.Size)
	e.lru.Add(p, entry)
	e.size += entry.Size
	e.metrics.SetResident(e.lru.Len(), e.size)
	e.mu.Unlock()

	logger.Debug("createWriteStream(%s): piping bytes to %s", p, entry.Path)
	return &Writer{e: e, name: p, entry: entry, file: f, flushed: make(chan struct{})}, nil
}

func (e *Engine) unreserveLocked(size int64) {
	e.reservedFiles--
	e.reservedSize -= size
}

// recordEntry persists the handle records (when new) and the entry in one batch.
func (e *Engine) recordEntry(ctx context.Context, entry *Entry) error {
	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	h, ops, err := e.handleForLocked(ctx, entry.Name)
	if err != nil {
		return err
	}
	entry.Handle = h

	raw, err := entry.marshal()
	if err != nil {
		return err
	}
	ops = append(ops, metadata.Put(filesKey(entry.Name), raw))
	if err := e.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("persist entry for %s: %w", entry.Name, err)
	}
	return nil
}

// Handle returns the file handle of the object, or "" for a discarding stream.
func (w *Writer) Handle() string {
	if w.entry == nil {
		return ""
	}
	return w.entry.Handle
}

// Name returns the logical path being written.
func (w *Writer) Name() string { return w.name }

// Flushed is closed once the content is durable on disk.
func (w *Writer) Flushed() <-chan struct{} { return w.flushed }

// Err returns the error that ended the stream, if any.
func (w *Writer) Err() error { return w.err }

func (w *Writer) Write(b []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.discard {
		w.written += int64(len(b))
		return len(b), nil
	}
	n, err := w.file.Write(b)
	w.written += int64(n)
	if err != nil {
		w.fail(err)
		return n, err
	}
	return n, nil
}

// ReadFrom lets io.Copy stream straight into the backing file.
func (w *Writer) ReadFrom(r io.Reader) (int64, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.discard {
		n, err := io.Copy(io.Discard, r)
		w.written += n
		return n, err
	}
	n, err := io.Copy(w.file, r)
	w.written += n
	if err != nil {
		w.fail(err)
	}
	return n, err
}

// Close syncs the backing file and makes the entry readable. The entry's
// size is corrected to the bytes actually written.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}
	var closeErr error
	w.once.Do(func() {
		closeErr = w.commit()
	})
	return closeErr
}

func (w *Writer) commit() error {
	e := w.e

	if w.discard {
		e.mu.Lock()
		e.endWriteLocked(w.name)
		e.mu.Unlock()
		close(w.flushed)
		return nil
	}

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		w.cleanup(err)
		return w.err
	}
	if err := w.file.Close(); err != nil {
		w.cleanup(err)
		return w.err
	}

	e.mu.Lock()
	resized := w.written != w.entry.Size
	if resized {
		if cur, ok := e.lru.Peek(w.name); ok && cur.(*Entry) == w.entry {
			e.size += w.written - w.entry.Size
		}
		w.entry.Size = w.written
	}
	raw, err := w.entry.marshal()
	e.mu.Unlock()

	if err == nil && resized {
		err = e.store.Put(context.Background(), filesKey(w.name), raw)
	}
	if err != nil {
		w.cleanup(err)
		return w.err
	}

	e.mu.Lock()
	e.endWriteLocked(w.name)
	if resized {
		e.settleLocked()
	}
	e.mu.Unlock()
	close(w.flushed)

	logger.Debug("createWriteStream(%s): flushed %d bytes", w.name, w.written)
	return nil
}

// Abort discards the stream. The partial backing file and its records are
// removed and err is what Err reports afterwards.
func (w *Writer) Abort(err error) {
	if err == nil {
		err = errors.New("write aborted")
	}
	w.once.Do(func() {
		if w.discard {
			w.err = err
			w.e.mu.Lock()
			w.e.endWriteLocked(w.name)
			w.e.mu.Unlock()
			return
		}
		_ = w.file.Close()
		w.cleanup(err)
	})
}

func (w *Writer) fail(err error) {
	w.once.Do(func() {
		_ = w.file.Close()
		w.cleanup(err)
	})
}

// cleanup removes a failed write from disk, the index and the store.
func (w *Writer) cleanup(err error) {
	e := w.e
	w.err = fmt.Errorf("write %s: %w", w.name, err)

	if rmErr := os.Remove(w.entry.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		logger.Error("createWriteStream(%s): unable to cleanup %s after error(%v): %v", w.name, w.entry.Path, err, rmErr)
	}
	e.dropRecord(w.name)

	e.mu.Lock()
	if cur, ok := e.lru.Peek(w.name); ok && cur.(*Entry) == w.entry {
		e.lru.Remove(w.name)
		e.size -= w.entry.Size
		if e.size < 0 {
			e.size = 0
		}
	}
	e.endWriteLocked(w.name)
	e.metrics.SetResident(e.lru.Len(), e.size)
	e.mu.Unlock()

	logger.Warn("createWriteStream(%s): failed: %v", w.name, err)
}
