//go:build integration

package s3_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
	remotes3 "github.com/TritonDataCenter/manta-nfs/pkg/remote/s3"
)

// setupTestS3 creates an S3 client and test bucket for integration tests.
//
// It connects to Localstack (or other S3-compatible endpoint) and creates a
// test bucket that is emptied and removed when the test ends.
func setupTestS3(t *testing.T, bucketName string) *s3.Client {
	t.Helper()
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	client, err := remotes3.NewClient(ctx, remotes3.ClientConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		MaxRetries:      2,
	})
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	require.NoError(t, err, "is Localstack running at %s?", endpoint)

	t.Cleanup(func() {
		listResp, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucketName),
		})
		if listResp != nil {
			for _, obj := range listResp.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(bucketName),
					Key:    obj.Key,
				})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: aws.String(bucketName),
		})
	})

	return client
}

func newStore(t *testing.T, client *s3.Client, bucket, prefix string) remote.Store {
	t.Helper()
	store, err := remotes3.New(context.Background(), remotes3.Config{
		Client:    client,
		Bucket:    bucket,
		KeyPrefix: prefix,
	})
	require.NoError(t, err)
	return store
}

func listNames(t *testing.T, store remote.Store, p string) []string {
	t.Helper()
	var names []string
	require.NoError(t, store.List(context.Background(), p, func(info *remote.Info) error {
		name := info.Name
		if info.IsDirectory {
			name += "/"
		}
		names = append(names, name)
		return nil
	}))
	return names
}

// TestS3Remote_Integration exercises the remote store against a real
// S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566 (or LOCALSTACK_ENDPOINT)
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Remote_Integration(t *testing.T) {
	ctx := context.Background()
	bucket := fmt.Sprintf("manta-nfs-test-%d", time.Now().UnixNano())
	client := setupTestS3(t, bucket)
	store := newStore(t, client, bucket, "stor")

	t.Run("MissingObject", func(t *testing.T) {
		_, err := store.Info(ctx, "/nope")
		assert.ErrorIs(t, err, remote.ErrNotFound)

		_, err = store.Get(ctx, "/nope")
		assert.ErrorIs(t, err, remote.ErrNotFound)
	})

	t.Run("PutGetInfo", func(t *testing.T) {
		data := []byte("hello from the gateway")
		require.NoError(t, store.Put(ctx, "/docs/hello.txt", bytes.NewReader(data), int64(len(data))))

		info, err := store.Info(ctx, "/docs/hello.txt")
		require.NoError(t, err)
		assert.False(t, info.IsDirectory)
		assert.EqualValues(t, len(data), info.Size)
		assert.Equal(t, "hello.txt", info.Name)

		r, err := store.Get(ctx, "/docs/hello.txt")
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, r.Close())
		require.NoError(t, err)
		assert.Equal(t, data, got)

		// The parent exists implicitly.
		dir, err := store.Info(ctx, "/docs")
		require.NoError(t, err)
		assert.True(t, dir.IsDirectory)
	})

	t.Run("MkdirAndList", func(t *testing.T) {
		require.NoError(t, store.Mkdir(ctx, "/tree"))
		require.NoError(t, store.Mkdir(ctx, "/tree"), "mkdir of an existing directory succeeds")
		require.NoError(t, store.Mkdir(ctx, "/tree/sub"))
		for _, name := range []string{"b", "a", "c"} {
			require.NoError(t, store.Put(ctx, "/tree/"+name, strings.NewReader(name), 1))
		}

		assert.Equal(t, []string{"a", "b", "c", "sub/"}, listNames(t, store, "/tree"))
		assert.Empty(t, listNames(t, store, "/tree/sub"))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Mkdir(ctx, "/gone"))
		require.NoError(t, store.Put(ctx, "/gone/file", strings.NewReader("x"), 1))

		assert.ErrorIs(t, store.Delete(ctx, "/gone"), remote.ErrNotEmpty)

		require.NoError(t, store.Delete(ctx, "/gone/file"))
		require.NoError(t, store.Delete(ctx, "/gone"))

		_, err := store.Info(ctx, "/gone")
		assert.ErrorIs(t, err, remote.ErrNotFound)
	})

	t.Run("LargeObject", func(t *testing.T) {
		data := bytes.Repeat([]byte("0123456789abcdef"), 1<<16) // 1 MiB
		require.NoError(t, store.Put(ctx, "/big.bin", bytes.NewReader(data), int64(len(data))))

		r, err := store.Get(ctx, "/big.bin")
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, r.Close())
		require.NoError(t, err)
		assert.Equal(t, len(data), len(got))
		assert.True(t, bytes.Equal(data, got))
	})
}

// TestS3Remote_PrefixIsolation checks that two key prefixes in one bucket
// see disjoint trees.
func TestS3Remote_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	bucket := fmt.Sprintf("manta-nfs-prefix-%d", time.Now().UnixNano())
	client := setupTestS3(t, bucket)

	a := newStore(t, client, bucket, "tenant-a")
	b := newStore(t, client, bucket, "tenant-b/")

	require.NoError(t, a.Put(ctx, "/only-a", strings.NewReader("a"), 1))

	_, err := b.Info(ctx, "/only-a")
	assert.ErrorIs(t, err, remote.ErrNotFound)
	assert.Equal(t, []string{"only-a"}, listNames(t, a, "/"))
	assert.Empty(t, listNames(t, b, "/"))
}

func TestS3Remote_MissingBucket(t *testing.T) {
	client := setupTestS3(t, fmt.Sprintf("manta-nfs-probe-%d", time.Now().UnixNano()))

	_, err := remotes3.New(context.Background(), remotes3.Config{
		Client: client,
		Bucket: "manta-nfs-does-not-exist",
	})
	assert.Error(t, err)
}
