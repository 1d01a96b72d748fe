package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
	metadatatesting "github.com/TritonDataCenter/manta-nfs/pkg/store/metadata/testing"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()

	store, err := New(context.Background(), Config{DBPath: dir})
	require.NoError(t, err)
	return store
}

// TestBadgerStore runs the metadata.Store suite against BadgerDB.
func TestBadgerStore(t *testing.T) {
	suite := &metadatatesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return newTestStore(t, t.TempDir())
		},
	}

	suite.Run(t)
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := newTestStore(t, dir)
	require.NoError(t, store.Batch(ctx, []metadata.Op{
		metadata.Put("fscache:files:/a", []byte("entry")),
		metadata.Put("fscache:fhandles:1", []byte("handle")),
	}))
	require.NoError(t, store.Close())

	reopened := newTestStore(t, dir)
	defer reopened.Close()

	value, err := reopened.Get(ctx, "fscache:files:/a")
	require.NoError(t, err)
	assert.Equal(t, "entry", string(value))
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_path")
}

func TestNewHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ctx, Config{DBPath: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}
