package cache

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine *Engine
	store  metadata.Store
	dir    string
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "cache")
	store := memory.New()
	cfg := Config{
		Location: dir,
		Store:    store,
		MaxFiles: 100,
		MaxSize:  10 * 1024,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.WaitReady(context.Background()))
	t.Cleanup(func() { _ = e.Close() })

	return &testEnv{engine: e, store: store, dir: dir}
}

func (env *testEnv) write(t *testing.T, p string, data []byte) *Writer {
	t.Helper()
	w, err := env.engine.BeginWrite(context.Background(), p, WriteOptions{Size: int64(len(data))})
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return w
}

func (env *testEnv) read(t *testing.T, p string) []byte {
	t.Helper()
	r, err := env.engine.BeginRead(p)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func (env *testEnv) diskFiles(t *testing.T) int {
	t.Helper()
	dirents, err := os.ReadDir(env.dir)
	require.NoError(t, err)
	return len(dirents)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Store: memory.New()})
	assert.Error(t, err)

	_, err = New(Config{Location: t.TempDir()})
	assert.Error(t, err)
}

func TestInitFailsOnFileLocation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	e, err := New(Config{Location: filepath.Join(file, "cache"), Store: memory.New()})
	require.NoError(t, err)
	assert.Error(t, e.WaitReady(context.Background()))

	_, err = e.BeginWrite(context.Background(), "/a", WriteOptions{})
	assert.Error(t, err)
	assert.NoError(t, e.Close())
}

func TestWriteEvictionsByCount(t *testing.T) {
	env := newTestEngine(t, func(c *Config) {
		c.MaxFiles = 10
		c.MaxSize = 1 << 20
	})

	for i := 0; i < 20; i++ {
		env.write(t, fmt.Sprintf("/obj-%02d", i), []byte(fmt.Sprintf("hello, world: %d", i)))
		assert.LessOrEqual(t, env.engine.Files(), 10)
	}

	assert.Equal(t, 10, env.engine.Files())
	assert.Equal(t, 10, env.diskFiles(t))

	// The oldest ten went first.
	assert.False(t, env.engine.Has("/obj-00"))
	assert.True(t, env.engine.Has("/obj-19"))
}

func TestWriteEvictionsBySize(t *testing.T) {
	env := newTestEngine(t, nil)
	max := env.engine.MaxSize()

	var total int64
	for i := 0; total < max*10; i++ {
		sz := int64(1 + i*977%int(max-1))
		data := make([]byte, sz)
		_, _ = rand.Read(data)
		env.write(t, fmt.Sprintf("/blob-%d", i), data)
		total += sz

		assert.LessOrEqual(t, env.engine.Size(), max)
	}

	var onDisk int64
	dirents, err := os.ReadDir(env.dir)
	require.NoError(t, err)
	require.NotEmpty(t, dirents)
	for _, d := range dirents {
		fi, err := d.Info()
		require.NoError(t, err)
		onDisk += fi.Size()
	}
	assert.Equal(t, onDisk, env.engine.Size())
}

func TestOversizedWritePassthrough(t *testing.T) {
	env := newTestEngine(t, nil)
	data := make([]byte, env.engine.MaxSize()*10)

	w, err := env.engine.BeginWrite(context.Background(), "/huge", WriteOptions{Size: int64(len(data))})
	require.NoError(t, err)
	assert.Empty(t, w.Handle())

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case <-w.Flushed():
	default:
		t.Fatal("flush did not fire")
	}

	assert.Equal(t, 0, env.engine.Files())
	assert.EqualValues(t, 0, env.engine.Size())
	assert.Equal(t, 0, env.diskFiles(t))
	assert.False(t, env.engine.Pending("/huge"))
}

func TestNoDoubleWrite(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	first, err := env.engine.BeginWrite(ctx, "/f", WriteOptions{Size: 5})
	require.NoError(t, err)
	assert.True(t, env.engine.Pending("/f"))

	_, err = env.engine.BeginWrite(ctx, "/f", WriteOptions{Size: 5})
	assert.ErrorIs(t, err, ErrWriteInProgress)
	assert.True(t, errors.Is(err, syscall.EBUSY))

	_, err = first.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	assert.Equal(t, "first", string(env.read(t, "/f")))
	assert.False(t, env.engine.Pending("/f"))
}

func TestWriteRejectedWhileReading(t *testing.T) {
	env := newTestEngine(t, nil)
	env.write(t, "/f", []byte("data"))

	r, err := env.engine.BeginRead("/f")
	require.NoError(t, err)

	_, err = env.engine.BeginWrite(context.Background(), "/f", WriteOptions{Size: 4})
	assert.ErrorIs(t, err, ErrWriteInProgress)

	require.NoError(t, r.Close())
	assert.False(t, env.engine.Pending("/f"))
}

func TestReadAfterFlush(t *testing.T) {
	env := newTestEngine(t, nil)
	data := []byte("the quick brown fox")

	w := env.write(t, "/dir/../fox.txt", data)
	<-w.Flushed()

	assert.Equal(t, data, env.read(t, "/fox.txt"))
}

func TestReadNotCached(t *testing.T) {
	env := newTestEngine(t, nil)

	_, err := env.engine.BeginRead("/missing")
	assert.ErrorIs(t, err, ErrFileNotCached)
	assert.True(t, errors.Is(err, syscall.ENOENT))

	_, err = env.engine.Stat("/missing")
	assert.ErrorIs(t, err, ErrFileNotCached)
}

func TestExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	env := newTestEngine(t, func(c *Config) {
		c.Now = clock.Now
	})

	w, err := env.engine.BeginWrite(context.Background(), "/ttl", WriteOptions{Size: 3, TTL: time.Second})
	require.NoError(t, err)
	_, _ = w.Write([]byte("abc"))
	require.NoError(t, w.Close())
	assert.True(t, env.engine.Has("/ttl"))

	clock.Advance(1100 * time.Millisecond)

	assert.False(t, env.engine.Has("/ttl"))
	_, err = env.engine.BeginRead("/ttl")
	assert.ErrorIs(t, err, ErrFileNotCached)
	_, err = env.engine.Stat("/ttl")
	assert.ErrorIs(t, err, ErrFileNotCached)

	assert.Equal(t, 0, env.engine.Files())
	assert.Equal(t, 0, env.diskFiles(t))
}

func TestConcurrentReads(t *testing.T) {
	env := newTestEngine(t, nil)
	data := make([]byte, 100)
	_, _ = rand.Read(data)
	env.write(t, "/a", data)

	var wg sync.WaitGroup
	results := make([][]byte, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := env.engine.BeginRead("/a")
			if err != nil {
				errs[i] = err
				return
			}
			defer r.Close()
			results[i], errs[i] = io.ReadAll(r)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, data, results[i])
	}
	assert.False(t, env.engine.Pending("/a"))
}

func TestEvictionCleanup(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	w := env.write(t, "/gone", []byte("bye"))

	entry, ok := env.engine.Get("/gone")
	require.True(t, ok)

	require.NoError(t, env.engine.Remove("/gone"))

	_, err := os.Stat(entry.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = env.store.Get(ctx, filesKey("/gone"))
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	// The handle outlives the entry.
	name, err := env.engine.HandleToPath(ctx, w.Handle())
	require.NoError(t, err)
	assert.Equal(t, "/gone", name)

	assert.NoError(t, env.engine.Remove("/never-cached"))
}

func TestAbortRemovesPartialWrite(t *testing.T) {
	env := newTestEngine(t, nil)

	w, err := env.engine.BeginWrite(context.Background(), "/partial", WriteOptions{Size: 10})
	require.NoError(t, err)
	_, err = w.Write([]byte("12345"))
	require.NoError(t, err)

	w.Abort(errors.New("remote hung up"))

	assert.Error(t, w.Err())
	assert.Error(t, w.Close())
	assert.False(t, env.engine.Has("/partial"))
	assert.False(t, env.engine.Pending("/partial"))
	assert.Equal(t, 0, env.diskFiles(t))
	assert.EqualValues(t, 0, env.engine.Size())
}

func TestPendingEntriesAreNotEvicted(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.MaxFiles = 2 })

	env.write(t, "/pinned", []byte("p"))
	r, err := env.engine.BeginRead("/pinned")
	require.NoError(t, err)

	env.write(t, "/b", []byte("b"))
	env.write(t, "/c", []byte("c"))

	assert.True(t, env.engine.Has("/pinned"))
	assert.False(t, env.engine.Has("/b"))
	assert.True(t, env.engine.Has("/c"))

	require.NoError(t, r.Close())
	env.write(t, "/d", []byte("d"))
	assert.False(t, env.engine.Has("/pinned"))
}

func TestFileWriteMarksDirty(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.MaxFiles = 1 })
	env.write(t, "/doc", []byte("hello"))

	f, err := env.engine.OpenFile("/doc", os.O_RDWR)
	require.NoError(t, err)
	n, err := f.WriteAt([]byte(" world"), 5)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	entry, ok := env.engine.Get("/doc")
	require.True(t, ok)
	assert.True(t, entry.Dirty)
	assert.EqualValues(t, 11, entry.Size)
	assert.EqualValues(t, 11, env.engine.Size())
	assert.Len(t, env.engine.DirtyEntries(), 1)

	// Dirty entries are pinned even over budget.
	env.write(t, "/other", []byte("o"))
	assert.True(t, env.engine.Has("/doc"))

	require.NoError(t, env.engine.MarkClean("/doc", entry.Version+1))
	e2, _ := env.engine.Get("/doc")
	assert.True(t, e2.Dirty, "stale version must not clean")

	require.NoError(t, env.engine.MarkClean("/doc", entry.Version))
	e3, _ := env.engine.Get("/doc")
	assert.False(t, e3.Dirty)
	assert.Empty(t, env.engine.DirtyEntries())

	raw, err := env.store.Get(context.Background(), filesKey("/doc"))
	require.NoError(t, err)
	persisted, err := decodeEntry(raw)
	require.NoError(t, err)
	assert.False(t, persisted.Dirty)
	assert.EqualValues(t, 11, persisted.Size)
}

func TestTruncate(t *testing.T) {
	env := newTestEngine(t, nil)
	env.write(t, "/t", []byte("0123456789"))

	require.NoError(t, env.engine.Truncate("/t", 4))

	attr, err := env.engine.Stat("/t")
	require.NoError(t, err)
	assert.EqualValues(t, 4, attr.Size)
	assert.True(t, attr.Dirty)
	assert.Equal(t, []byte("0123"), env.read(t, "/t"))

	assert.ErrorIs(t, env.engine.Truncate("/none", 0), ErrFileNotCached)
}

func TestStatOverlaysDirectoryBit(t *testing.T) {
	env := newTestEngine(t, nil)
	w, err := env.engine.BeginWrite(context.Background(), "/d", WriteOptions{IsDirectory: true, ETag: "abc"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	attr, err := env.engine.Stat("/d")
	require.NoError(t, err)
	assert.True(t, attr.Mode.IsDir())
	assert.True(t, attr.IsDirectory)
	assert.Equal(t, "abc", attr.ETag)
	assert.Equal(t, w.Handle(), attr.Handle)
}

func TestReapExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var evicted []string
	env := newTestEngine(t, func(c *Config) {
		c.Now = clock.Now
		c.TTL = time.Minute
		c.OnEvict = func(name string) { evicted = append(evicted, name) }
	})

	env.write(t, "/old", []byte("o"))
	clock.Advance(30 * time.Second)
	env.write(t, "/new", []byte("n"))
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, env.engine.ReapExpired())
	assert.Equal(t, []string{"/old"}, evicted)
	assert.Equal(t, 1, env.engine.Files())
}

func TestCloseEvictsEverything(t *testing.T) {
	env := newTestEngine(t, nil)
	for i := 0; i < 5; i++ {
		env.write(t, fmt.Sprintf("/f%d", i), []byte("x"))
	}

	require.NoError(t, env.engine.Close())
	assert.Equal(t, 0, env.engine.Files())
	assert.Equal(t, 0, env.diskFiles(t))

	n := 0
	require.NoError(t, env.store.Scan(context.Background(), filesPrefix, func(string, []byte) error {
		n++
		return nil
	}))
	assert.Zero(t, n)

	_, err := env.engine.BeginWrite(context.Background(), "/late", WriteOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReplayAfterRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	store := memory.New()
	cfg := Config{Location: dir, Store: store, MaxSize: 1 << 20}

	first, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, first.WaitReady(context.Background()))

	w, err := first.BeginWrite(context.Background(), "/kept", WriteOptions{Size: 4})
	require.NoError(t, err)
	_, _ = w.Write([]byte("kept"))
	require.NoError(t, w.Close())
	first.stopReaper()

	// A file no record points at, as left by a crash mid-write.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan"), []byte("junk"), 0644))
	// A record whose backing file vanished.
	ghost := Entry{Handle: "00000000-0000-0000-0000-000000000000", Name: "/ghost",
		Path: filepath.Join(dir, "missing"), Expire: time.Now().Add(time.Hour).UnixMilli()}
	raw, _ := ghost.marshal()
	require.NoError(t, store.Put(context.Background(), filesKey("/ghost"), raw))

	second, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, second.WaitReady(context.Background()))
	t.Cleanup(func() { _ = second.Close() })

	assert.True(t, second.Has("/kept"))
	assert.False(t, second.Has("/ghost"))
	assert.EqualValues(t, 4, second.Size())

	r, err := second.BeginRead("/kept")
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	r.Close()
	assert.Equal(t, "kept", string(data))

	_, err = os.Stat(filepath.Join(dir, "orphan"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = store.Get(context.Background(), filesKey("/ghost"))
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestEvictionFaultOnCorruptRecord(t *testing.T) {
	env := newTestEngine(t, nil)
	env.write(t, "/bad", []byte("x"))

	require.NoError(t, env.store.Put(context.Background(), filesKey("/bad"), []byte(`{"name":"/bad"}`)))
	require.NoError(t, env.engine.Remove("/bad"))

	select {
	case err := <-env.engine.Faults():
		assert.ErrorContains(t, err, "/bad")
	default:
		t.Fatal("expected a fault")
	}
}

func TestWriteSizeCorrectedOnClose(t *testing.T) {
	env := newTestEngine(t, nil)

	w, err := env.engine.BeginWrite(context.Background(), "/hint", WriteOptions{Size: 2})
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader([]byte("longer than hinted")))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entry, ok := env.engine.Get("/hint")
	require.True(t, ok)
	assert.EqualValues(t, 18, entry.Size)
	assert.EqualValues(t, 18, env.engine.Size())
}

func TestBudgetRestoredWhenPinsRelease(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.MaxFiles = 1 })
	ctx := context.Background()

	first, err := env.engine.BeginWrite(ctx, "/a", WriteOptions{Size: 3})
	require.NoError(t, err)
	second, err := env.engine.BeginWrite(ctx, "/b", WriteOptions{Size: 3})
	require.NoError(t, err)

	// Both streams are pinned, so the budget is exceeded while they are open.
	assert.Equal(t, 2, env.engine.Files())

	_, err = first.Write([]byte("aaa"))
	require.NoError(t, err)
	_, err = second.Write([]byte("bbb"))
	require.NoError(t, err)
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())

	assert.Equal(t, 1, env.engine.Files())
	assert.Equal(t, 1, env.diskFiles(t))
	assert.False(t, env.engine.Has("/a"))
	assert.Equal(t, []byte("bbb"), env.read(t, "/b"))
}

func TestBudgetRestoredWhenMarkedClean(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.MaxSize = 8 })
	env.write(t, "/doc", []byte("hello"))
	env.write(t, "/other", []byte("abc"))

	r, err := env.engine.BeginRead("/other")
	require.NoError(t, err)
	defer r.Close()

	f, err := env.engine.OpenFile("/doc", os.O_RDWR)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte(" more"), 5)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Both entries are pinned: /doc is dirty and /other has a reader.
	assert.EqualValues(t, 13, env.engine.Size())

	entry, ok := env.engine.Get("/doc")
	require.True(t, ok)
	require.NoError(t, env.engine.MarkClean("/doc", entry.Version))

	assert.False(t, env.engine.Has("/doc"))
	assert.True(t, env.engine.Has("/other"))
	assert.EqualValues(t, 3, env.engine.Size())
	assert.Equal(t, 1, env.diskFiles(t))
}

func TestConcurrentWritersRespectBudget(t *testing.T) {
	env := newTestEngine(t, func(c *Config) {
		c.MaxFiles = 2
		c.MaxSize = 64
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := env.engine.BeginWrite(context.Background(), fmt.Sprintf("/w%d", i), WriteOptions{Size: 16})
			if !assert.NoError(t, err) {
				return
			}
			_, err = w.Write(bytes.Repeat([]byte{byte(i)}, 16))
			assert.NoError(t, err)
			assert.NoError(t, w.Close())
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, env.engine.Files(), 2)
	assert.LessOrEqual(t, env.engine.Size(), int64(64))
	assert.Equal(t, env.engine.Files(), env.diskFiles(t))
}

func TestCloseKeepsDirtyEntries(t *testing.T) {
	env := newTestEngine(t, nil)
	env.write(t, "/clean", []byte("clean"))
	env.write(t, "/dirty", []byte("local"))

	f, err := env.engine.OpenFile("/dirty", os.O_RDWR)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte(" edit"), 5)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, env.engine.Close())
	assert.Equal(t, 1, env.diskFiles(t))

	reopened, err := New(Config{Location: env.dir, Store: env.store, MaxFiles: 100, MaxSize: 10 * 1024})
	require.NoError(t, err)
	require.NoError(t, reopened.WaitReady(context.Background()))
	t.Cleanup(func() { _ = reopened.Close() })

	assert.False(t, reopened.Has("/clean"))
	entry, ok := reopened.Get("/dirty")
	require.True(t, ok)
	assert.True(t, entry.Dirty)
	assert.EqualValues(t, 10, entry.Size)
	assert.Len(t, reopened.DirtyEntries(), 1)

	r, err := reopened.BeginRead("/dirty")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "local edit", string(data))
}
