package testing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
)

// StoreTestSuite runs the behavioural contract of metadata.Store against
// any implementation.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) metadata.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(test *testing.T) {
	test.Run("GetMissing", suite.TestGetMissing)
	test.Run("PutGet", suite.TestPutGet)
	test.Run("PutOverwrites", suite.TestPutOverwrites)
	test.Run("DeleteIdempotent", suite.TestDeleteIdempotent)
	test.Run("BatchMixed", suite.TestBatchMixed)
	test.Run("ScanPrefixOrdered", suite.TestScanPrefixOrdered)
	test.Run("ScanStopsOnError", suite.TestScanStopsOnError)
	test.Run("ValuesAreCopied", suite.TestValuesAreCopied)
}

func (suite *StoreTestSuite) newStore(t *testing.T) metadata.Store {
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func (suite *StoreTestSuite) TestGetMissing(t *testing.T) {
	store := suite.newStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func (suite *StoreTestSuite) TestPutGet(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fscache:files:/a", []byte(`{"size":1}`)))

	value, err := store.Get(ctx, "fscache:files:/a")
	require.NoError(t, err)
	assert.Equal(t, `{"size":1}`, string(value))
}

func (suite *StoreTestSuite) TestPutOverwrites(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("one")))
	require.NoError(t, store.Put(ctx, "k", []byte("two")))

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(value))
}

func (suite *StoreTestSuite) TestDeleteIdempotent(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func (suite *StoreTestSuite) TestBatchMixed(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old", []byte("x")))
	require.NoError(t, store.Batch(ctx, []metadata.Op{
		metadata.Put("a", []byte("1")),
		metadata.Put("b", []byte("2")),
		metadata.Del("old"),
	}))

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		value, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, string(value))
	}
	_, err := store.Get(ctx, "old")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func (suite *StoreTestSuite) TestScanPrefixOrdered(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	for _, key := range []string{"files:c", "files:a", "handles:z", "files:b", "filesx"} {
		require.NoError(t, store.Put(ctx, key, []byte(key)))
	}

	var keys []string
	err := store.Scan(ctx, "files:", func(key string, value []byte) error {
		assert.Equal(t, key, string(value))
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"files:a", "files:b", "files:c"}, keys)
}

func (suite *StoreTestSuite) TestScanStopsOnError(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(ctx, fmt.Sprintf("p:%d", i), []byte("v")))
	}

	stop := fmt.Errorf("stop")
	calls := 0
	err := store.Scan(ctx, "p:", func(string, []byte) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func (suite *StoreTestSuite) TestValuesAreCopied(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", value))
	value[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'z'
	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
