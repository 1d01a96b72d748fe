package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

func put(t *testing.T, s *Store, p, body string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), p, strings.NewReader(body), int64(len(body))))
}

func names(t *testing.T, s *Store, p string) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.List(context.Background(), p, func(i *remote.Info) error {
		out = append(out, i.Name)
		return nil
	}))
	return out
}

func TestRootExists(t *testing.T) {
	s := New()
	info, err := s.Info(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, info.IsDirectory)
	assert.Empty(t, names(t, s, "/"))
}

func TestPutGetInfo(t *testing.T) {
	ctx := context.Background()
	s := New()
	put(t, s, "/stor/hello.txt", "hello world")

	info, err := s.Info(ctx, "stor/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", info.Name)
	assert.False(t, info.IsDirectory)
	assert.EqualValues(t, 11, info.Size)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", info.ETag)

	rc, err := s.Get(ctx, "/stor/hello.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestImplicitDirectories(t *testing.T) {
	ctx := context.Background()
	s := New()
	put(t, s, "/a/b/c.txt", "c")
	put(t, s, "/a/b-x", "x")

	info, err := s.Info(ctx, "/a/b")
	require.NoError(t, err)
	assert.True(t, info.IsDirectory)

	assert.Equal(t, []string{"a"}, names(t, s, "/"))
	assert.Equal(t, []string{"b", "b-x"}, names(t, s, "/a"))
	assert.Equal(t, []string{"c.txt"}, names(t, s, "/a/b"))
}

func TestMkdirAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Mkdir(ctx, "/stor"))
	require.NoError(t, s.Mkdir(ctx, "/stor"))
	assert.ErrorIs(t, s.Mkdir(ctx, "/missing/child"), remote.ErrNotFound)

	put(t, s, "/stor/f", "data")
	err := s.Delete(ctx, "/stor")
	assert.ErrorIs(t, err, remote.ErrNotEmpty)
	assert.True(t, errors.Is(err, syscall.ENOTEMPTY))

	require.NoError(t, s.Delete(ctx, "/stor/f"))
	require.NoError(t, s.Delete(ctx, "/stor"))

	_, err = s.Info(ctx, "/stor")
	assert.ErrorIs(t, err, remote.ErrNotFound)
	assert.True(t, errors.Is(err, syscall.ENOENT))
}

func TestGetMissingAndDirectory(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Mkdir(ctx, "/d"))

	_, err := s.Get(ctx, "/nope")
	assert.ErrorIs(t, err, remote.ErrNotFound)
	_, err = s.Get(ctx, "/d")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestPutShortBody(t *testing.T) {
	s := New()
	err := s.Put(context.Background(), "/f", strings.NewReader("abc"), 10)
	assert.Error(t, err)
}

func TestListStopsOnCallbackError(t *testing.T) {
	s := New()
	put(t, s, "/d/1", "1")
	put(t, s, "/d/2", "2")

	stop := errors.New("stop")
	calls := 0
	err := s.List(context.Background(), "/d", func(*remote.Info) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Info(ctx, "/")
	assert.ErrorIs(t, err, context.Canceled)
}
