// Package cache implements the bounded on-disk cache the gateway serves from.
//
// The Engine keeps one backing file per resident object under a root
// directory, an LRU order over them, and a durable record of each entry and
// file handle in a metadata.Store. Resident size and count are bounded;
// entries with in-flight I/O or unflushed local writes are pinned and never
// chosen for eviction.
//
// Initialization runs in the background. Every operation returns ErrNotReady
// until Ready is closed, and the initialization error (if any) afterwards.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
)

const (
	DefaultMaxFiles     = 100
	DefaultMaxSize      = 1 << 30
	DefaultTTL          = time.Hour
	DefaultReapInterval = time.Minute

	// lruCapacity disables simplelru's own eviction; the engine enforces
	// the budgets itself so that pinned entries can be skipped.
	lruCapacity = 1 << 30
)

// Config configures an Engine.
type Config struct {
	// Location is the directory holding backing files.
	Location string

	// Store persists entries and handle records.
	Store metadata.Store

	MaxFiles     int
	MaxSize      int64
	TTL          time.Duration
	ReapInterval time.Duration

	// Metrics is optional.
	Metrics Metrics

	// OnEvict, when set, is called with the logical path of every evicted entry.
	OnEvict func(name string)

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.MaxFiles <= 0 {
		c.MaxFiles = DefaultMaxFiles
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = DefaultReapInterval
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine is the disk cache.
type Engine struct {
	location string
	store    metadata.Store
	maxFiles int
	ttl      time.Duration
	metrics  Metrics
	onEvict  func(string)
	now      func() time.Time

	mu      sync.Mutex
	lru     *simplelru.LRU
	size    int64
	maxSize int64
	pending map[string]*pendingIO

	// reservedFiles and reservedSize cover write streams that passed
	// makeRoomLocked but are not in the index yet.
	reservedFiles int
	reservedSize  int64
	closed  bool

	// handleMu serializes handle allocation so a path never gets two handles.
	handleMu sync.Mutex

	version atomic.Uint64

	evictions sync.WaitGroup
	faults    chan error

	ready   chan struct{}
	initErr error

	stopReaper context.CancelFunc
	reaperDone chan struct{}
}

// New validates cfg and starts initialization in the background.
func New(cfg Config) (*Engine, error) {
	if cfg.Location == "" {
		return nil, errors.New("cache location is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("cache metadata store is required")
	}
	cfg.applyDefaults()

	location, err := filepath.Abs(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("resolve cache location: %w", err)
	}

	l, err := simplelru.NewLRU(lruCapacity, nil)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		location:   location,
		store:      cfg.Store,
		maxFiles:   cfg.MaxFiles,
		maxSize:    cfg.MaxSize,
		ttl:        cfg.TTL,
		metrics:    cfg.Metrics,
		onEvict:    cfg.OnEvict,
		now:        cfg.Now,
		lru:        l,
		pending:    make(map[string]*pendingIO),
		faults:     make(chan error, 16),
		ready:      make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	e.version.Store(uint64(time.Now().UnixNano()))

	ctx, cancel := context.WithCancel(context.Background())
	e.stopReaper = cancel

	go func() {
		e.initErr = e.init(ctx)
		close(e.ready)
		if e.initErr != nil {
			logger.Error("cache %s failed to initialize: %v", e.location, e.initErr)
			close(e.reaperDone)
			return
		}
		logger.Info("cache ready: %s", e)
		e.reap(ctx, cfg.ReapInterval)
	}()

	return e, nil
}

// Ready is closed once initialization has finished, successfully or not.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// WaitReady blocks until initialization finishes and returns its error.
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return e.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Faults carries unrecoverable metadata inconsistencies found during eviction.
func (e *Engine) Faults() <-chan error { return e.faults }

// Location returns the absolute cache root.
func (e *Engine) Location() string { return e.location }

// Files returns the number of resident entries.
func (e *Engine) Files() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lru.Len()
}

// Size returns the resident size in bytes.
func (e *Engine) Size() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}

// MaxFiles returns the entry count budget.
func (e *Engine) MaxFiles() int { return e.maxFiles }

// MaxSize returns the effective byte budget, which initialization may shrink.
func (e *Engine) MaxSize() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxSize
}

func (e *Engine) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("Engine<root=%s, files=%d, max_files=%d, size=%d, max_size=%d>",
		e.location, e.lru.Len(), e.maxFiles, e.size, e.maxSize)
}

func (e *Engine) checkReady() error {
	select {
	case <-e.ready:
		return e.initErr
	default:
		return ErrNotReady
	}
}

func (e *Engine) init(ctx context.Context) error {
	logger.Debug("cache init: %s", e.location)

	if err := os.MkdirAll(e.location, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	fs, err := StatFS(e.location)
	if err != nil {
		return fmt.Errorf("statfs %s: %w", e.location, err)
	}
	e.mu.Lock()
	if avail := int64(fs.AvailBytes); avail < e.maxSize {
		logger.Warn("%s has %dMB available. Using as max size", e.location, avail>>20)
		e.maxSize = avail
	}
	e.mu.Unlock()

	known := make(map[string]bool)
	var (
		stale    []string
		replayed []*Entry
	)

	err = e.store.Scan(ctx, filesPrefix, func(key string, value []byte) error {
		entry, err := decodeEntry(value)
		if err != nil {
			logger.Warn("cache init: dropping %s: %v", key, err)
			stale = append(stale, key)
			return nil
		}
		if _, err := os.Stat(entry.Path); err != nil {
			logger.Warn("cache init: dropping %s: backing file: %v", entry.Name, err)
			stale = append(stale, key)
			return nil
		}
		known[filepath.Base(entry.Path)] = true
		replayed = append(replayed, entry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay cache entries: %w", err)
	}

	for _, key := range stale {
		if err := e.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("drop stale entry %s: %w", key, err)
		}
	}

	e.removeOrphans(known)

	e.mu.Lock()
	for _, entry := range replayed {
		e.lru.Add(entry.Name, entry)
		e.size += entry.Size
	}
	e.makeRoomLocked(0, 0)
	e.metrics.SetResident(e.lru.Len(), e.size)
	e.mu.Unlock()

	return nil
}

// removeOrphans deletes backing files no entry refers to, left behind by a
// crash between opening a file and persisting its record.
func (e *Engine) removeOrphans(known map[string]bool) {
	dirents, err := os.ReadDir(e.location)
	if err != nil {
		logger.Warn("cache init: list %s: %v", e.location, err)
		return
	}
	for _, d := range dirents {
		if d.IsDir() || known[d.Name()] || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		if err := os.Remove(filepath.Join(e.location, d.Name())); err != nil {
			logger.Warn("cache init: remove orphan %s: %v", d.Name(), err)
			continue
		}
		logger.Debug("cache init: removed orphan %s", d.Name())
	}
}

// Close evicts every clean resident entry, waits for evictions to drain and
// stops the reaper. Dirty entries keep their backing file and record so the
// next start replays them and write-back can resume. The metadata store is
// left open.
func (e *Engine) Close() error {
	e.stopReaper()
	<-e.ready
	<-e.reaperDone

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	kept := 0
	if e.initErr == nil {
		for _, k := range e.lru.Keys() {
			name := k.(string)
			v, ok := e.lru.Peek(name)
			if !ok {
				continue
			}
			if v.(*Entry).Dirty {
				kept++
				continue
			}
			e.evictLocked(name, v.(*Entry), "close")
		}
	}
	e.mu.Unlock()

	if kept > 0 {
		logger.Warn("cache close: keeping %d entries with unflushed writes for replay", kept)
	}

	e.evictions.Wait()
	logger.Debug("cache closed: %s", e.location)
	return nil
}

// fault reports an unrecoverable condition without blocking.
func (e *Engine) fault(err error) {
	select {
	case e.faults <- err:
	default:
		logger.Error("cache fault dropped (channel full): %v", err)
	}
}

func (e *Engine) nextVersion() uint64 {
	return e.version.Add(1)
}
