//go:build integration

package badger_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/manta-nfs/pkg/cache"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
	remotememory "github.com/TritonDataCenter/manta-nfs/pkg/remote/memory"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata/badger"
	"github.com/TritonDataCenter/manta-nfs/pkg/vfs"
)

// gateway is one process lifetime of the cache stack over a fixed badger
// directory and remote store.
type gateway struct {
	store  metadata.Store
	engine *cache.Engine
	fs     *vfs.FS
}

func openGateway(t *testing.T, dir string, rs remote.Store) *gateway {
	t.Helper()
	ctx := context.Background()

	store, err := badger.New(ctx, badger.Config{DBPath: filepath.Join(dir, "meta")})
	require.NoError(t, err)

	engine, err := cache.New(cache.Config{
		Location:     filepath.Join(dir, "cache"),
		Store:        store,
		MaxFiles:     100,
		MaxSize:      1 << 20,
		TTL:          time.Hour,
		ReapInterval: time.Hour,
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, engine.WaitReady(waitCtx))

	return &gateway{
		store:  store,
		engine: engine,
		fs:     vfs.New(engine, rs, vfs.Config{DirMode: 0755, FileMode: 0644}),
	}
}

func (g *gateway) close(t *testing.T) {
	t.Helper()
	require.NoError(t, g.engine.Close())
	require.NoError(t, g.store.Close())
}

// TestBadgerGateway_Restart runs the cache stack on BadgerDB across a clean
// restart.
//
// Prerequisites:
//   - None (BadgerDB is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/badger/...
//
// It verifies that:
//   - File handles handed to clients stay valid after a restart
//   - Committed data reaches the remote store and is fetched again
//   - Shutdown drains the cache index but keeps handle records
func TestBadgerGateway_Restart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rs := remotememory.New()

	var fileHandle, dirHandle string

	t.Run("FirstRun", func(t *testing.T) {
		g := openGateway(t, dir, rs)
		defer g.close(t)

		_, err := g.fs.Mkdir(ctx, "/docs")
		require.NoError(t, err)
		_, err = g.fs.Create(ctx, "/docs/readme.txt")
		require.NoError(t, err)

		n, err := g.fs.Write(ctx, "/docs/readme.txt", 0, []byte("persist me"))
		require.NoError(t, err)
		require.Equal(t, 10, n)
		require.NoError(t, g.fs.Commit(ctx, "/docs/readme.txt"))

		fileHandle, err = g.fs.Handle(ctx, "/docs/readme.txt")
		require.NoError(t, err)
		dirHandle, err = g.fs.Handle(ctx, "/docs")
		require.NoError(t, err)

		// Handles are stable within a run.
		again, err := g.fs.Handle(ctx, "/docs/readme.txt")
		require.NoError(t, err)
		assert.Equal(t, fileHandle, again)
	})

	t.Run("SecondRun", func(t *testing.T) {
		g := openGateway(t, dir, rs)
		defer g.close(t)

		// Close evicted everything.
		assert.Equal(t, 0, g.engine.Files())
		assert.False(t, g.engine.Has("/docs/readme.txt"))

		p, err := g.fs.Resolve(ctx, fileHandle)
		require.NoError(t, err)
		assert.Equal(t, "/docs/readme.txt", p)

		p, err = g.fs.Resolve(ctx, dirHandle)
		require.NoError(t, err)
		assert.Equal(t, "/docs", p)

		h, err := g.fs.Handle(ctx, "/docs/readme.txt")
		require.NoError(t, err)
		assert.Equal(t, fileHandle, h)

		// A read misses the cache and fetches the committed content.
		data, eof, err := g.fs.Read(ctx, "/docs/readme.txt", 0, 64)
		require.NoError(t, err)
		assert.True(t, eof)
		assert.Equal(t, "persist me", string(data))
		assert.True(t, g.engine.Has("/docs/readme.txt"))

		listing, err := g.fs.Readdir(ctx, "/docs")
		require.NoError(t, err)
		require.Len(t, listing.Entries, 1)
		assert.Equal(t, "readme.txt", listing.Entries[0].Name)
	})

	t.Run("UnknownHandle", func(t *testing.T) {
		g := openGateway(t, dir, rs)
		defer g.close(t)

		_, err := g.fs.Resolve(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, cache.ErrUnknownHandle)
	})
}

// TestBadgerGateway_CrashRecovery reopens the database while the previous
// engine was never closed, as after a crash, and checks that resident
// entries are replayed instead of refetched.
func TestBadgerGateway_CrashRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rs := remotememory.New()
	require.NoError(t, rs.Put(ctx, "/data.bin", strings.NewReader("0123456789"), 10))

	first := openGateway(t, dir, rs)
	_, _, err := first.fs.Read(ctx, "/data.bin", 0, 4)
	require.NoError(t, err)
	require.True(t, first.engine.Has("/data.bin"))

	// Drop the database without draining the engine.
	require.NoError(t, first.store.Close())

	// The remote copy disappears; only the replayed cache can serve it.
	require.NoError(t, rs.Delete(ctx, "/data.bin"))

	second := openGateway(t, dir, rs)
	defer second.close(t)

	assert.True(t, second.engine.Has("/data.bin"))
	assert.EqualValues(t, 10, second.engine.Size())

	data, _, err := second.fs.Read(ctx, "/data.bin", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "234", string(data))
}
