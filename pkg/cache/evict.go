package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// oldestUnpinnedLocked returns the least recently used entry that may be evicted.
func (e *Engine) oldestUnpinnedLocked() (string, *Entry, bool) {
	for _, k := range e.lru.Keys() {
		name := k.(string)
		v, ok := e.lru.Peek(name)
		if !ok {
			continue
		}
		entry := v.(*Entry)
		if !e.pinnedLocked(name, entry) {
			return name, entry, true
		}
	}
	return "", nil, false
}

// makeRoomLocked evicts unpinned entries, oldest first, until extraSize more
// bytes and extraFiles more entries fit the budgets next to the resident and
// reserved ones. If the index runs empty the resident size is reset and the
// caller proceeds anyway; if only pinned entries remain the budget is
// exceeded until they are released, and settleLocked runs again then.
func (e *Engine) makeRoomLocked(extraSize int64, extraFiles int) {
	for e.size+e.reservedSize+extraSize > e.maxSize ||
		e.lru.Len()+e.reservedFiles+extraFiles > e.maxFiles {
		name, entry, ok := e.oldestUnpinnedLocked()
		if !ok {
			if e.lru.Len() == 0 {
				e.size = 0
			} else {
				logger.Debug("cache: %d pinned entries hold %d bytes over budget", e.lru.Len(), e.size)
			}
			return
		}
		e.evictLocked(name, entry, "capacity")
	}
}

// settleLocked brings the index back within budget after a pin is released
// or an entry shrinks.
func (e *Engine) settleLocked() {
	e.makeRoomLocked(0, 0)
	e.metrics.SetResident(e.lru.Len(), e.size)
}

// evictLocked drops an entry from the index, then removes its backing file
// and its record. The durable record is authoritative for the file to
// delete; failures there mean the store and the index disagree and are
// reported on Faults.
func (e *Engine) evictLocked(name string, cached *Entry, reason string) {
	e.evictions.Add(1)
	defer e.evictions.Done()

	logger.Debug("evict(%s): entered (%s)", name, reason)

	e.lru.Remove(name)
	e.size -= cached.Size
	if e.size < 0 {
		e.size = 0
	}
	defer e.metrics.SetResident(e.lru.Len(), e.size)

	ctx := context.Background()
	raw, err := e.store.Get(ctx, filesKey(name))
	if err != nil {
		e.fault(fmt.Errorf("evict %s: read record: %w", name, err))
		return
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		logger.Error("evict(%s): data corruption: %v", name, err)
		e.fault(fmt.Errorf("evict %s: %w", name, err))
		return
	}

	if err := os.Remove(entry.Path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.fault(fmt.Errorf("evict %s: remove backing file: %w", name, err))
			return
		}
		logger.Warn("evict(%s): backing file %s already gone", name, entry.Path)
	}
	if entry.Path != cached.Path {
		// A record rewritten behind the index; the indexed file is garbage too.
		_ = os.Remove(cached.Path)
	}

	if err := e.store.Delete(ctx, filesKey(name)); err != nil {
		e.fault(fmt.Errorf("evict %s: delete record: %w", name, err))
		return
	}

	e.metrics.RecordEviction(reason)
	if e.onEvict != nil {
		e.onEvict(name)
	}
	logger.Debug("evict(%s): done", name)
}

// Remove invalidates the entry for p. Readers holding the backing file open
// keep their descriptor; a pending write stream makes Remove fail.
func (e *Engine) Remove(p string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	p = remote.Clean(p)

	e.mu.Lock()
	defer e.mu.Unlock()

	if pend, ok := e.pending[p]; ok && pend.writing {
		return ErrWriteInProgress
	}
	v, ok := e.lru.Peek(p)
	if !ok {
		return nil
	}
	e.evictLocked(p, v.(*Entry), "invalidate")
	return nil
}

func (e *Engine) reap(ctx context.Context, interval time.Duration) {
	defer close(e.reaperDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.ReapExpired(); n > 0 {
				logger.Debug("cache reaper: evicted %d expired entries", n)
			}
		}
	}
}

// ReapExpired evicts every expired, unpinned entry and returns how many went.
func (e *Engine) ReapExpired() int {
	if e.checkReady() != nil {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	n := 0
	for _, k := range e.lru.Keys() {
		name := k.(string)
		v, ok := e.lru.Peek(name)
		if !ok {
			continue
		}
		entry := v.(*Entry)
		if entry.expired(now) && !e.pinnedLocked(name, entry) {
			e.evictLocked(name, entry, "expired")
			n++
		}
	}
	return n
}

// persist writes entry back to the store.
func (e *Engine) persist(ctx context.Context, entry *Entry) error {
	raw, err := entry.marshal()
	if err != nil {
		return err
	}
	return e.store.Put(ctx, filesKey(entry.Name), raw)
}

// dropRecord removes the durable record of an entry that never became resident.
func (e *Engine) dropRecord(name string) {
	if err := e.store.Delete(context.Background(), filesKey(name)); err != nil {
		logger.Warn("cache: drop record %s: %v", name, err)
	}
}
