package cache

import (
	"context"

	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// pendingIO tracks in-flight work on one logical path. An entry with a
// pendingIO record is pinned: eviction skips it.
type pendingIO struct {
	writing bool
	reads   int
	opens   int

	// done is closed when the current write finishes.
	done chan struct{}
}

func (p *pendingIO) idle() bool {
	return !p.writing && p.reads == 0 && p.opens == 0
}

func (e *Engine) pendLocked(name string) *pendingIO {
	p, ok := e.pending[name]
	if !ok {
		p = &pendingIO{}
		e.pending[name] = p
	}
	return p
}

// releaseLocked drops the pending record of name once it is idle. The entry
// becomes evictable, so the budgets are enforced again.
func (e *Engine) releaseLocked(name string) {
	if p, ok := e.pending[name]; ok && p.idle() {
		delete(e.pending, name)
		e.settleLocked()
	}
}

func (e *Engine) endWriteLocked(name string) {
	p, ok := e.pending[name]
	if !ok || !p.writing {
		return
	}
	p.writing = false
	close(p.done)
	p.done = nil
	e.releaseLocked(name)
}

func (e *Engine) pinnedLocked(name string, entry *Entry) bool {
	if entry.Dirty {
		return true
	}
	_, busy := e.pending[name]
	return busy
}

// Pending reports whether any read, write or open descriptor is in flight
// for the logical path p.
func (e *Engine) Pending(p string) bool {
	p = remote.Clean(p)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[p]
	return ok
}

// Writing reports whether a write stream is open for p.
func (e *Engine) Writing(p string) bool {
	p = remote.Clean(p)

	e.mu.Lock()
	defer e.mu.Unlock()
	pend, ok := e.pending[p]
	return ok && pend.writing
}

// WaitWrite blocks until no write stream is open for p.
func (e *Engine) WaitWrite(ctx context.Context, p string) error {
	p = remote.Clean(p)

	for {
		e.mu.Lock()
		pend, ok := e.pending[p]
		if !ok || !pend.writing {
			e.mu.Unlock()
			return nil
		}
		done := pend.done
		e.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
