package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// fakeS3 is a single-bucket object map that honours Prefix, Delimiter and MaxKeys.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	headErr error
}

func newFake() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(`"etag-` + aws.ToString(in.Key) + `"`),
		LastModified:  aws.Time(time.Unix(100, 0)),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seen := map[string]bool{}
	limit := int(aws.ToInt32(in.MaxKeys))
	for _, k := range keys {
		if limit > 0 && len(out.Contents)+len(out.CommonPrefixes) >= limit {
			out.IsTruncated = aws.Bool(true)
			break
		}
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k]))),
			ETag: aws.String(`"e"`),
		})
	}
	return out, nil
}

func newStore(t *testing.T, prefix string) (*Store, *fakeS3) {
	t.Helper()
	fake := newFake()
	s, err := New(context.Background(), Config{Client: fake, Bucket: "manta", KeyPrefix: prefix})
	require.NoError(t, err)
	return s, fake
}

func TestNewValidates(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "b"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Client: newFake()})
	assert.Error(t, err)

	fake := newFake()
	fake.headErr = errors.New("forbidden")
	_, err = New(context.Background(), Config{Client: fake, Bucket: "b"})
	assert.ErrorContains(t, err, "forbidden")
}

func TestKeyMapping(t *testing.T) {
	s, _ := newStore(t, "/stor/")
	assert.Equal(t, "stor/a/b.txt", s.objectKey("/a/b.txt"))
	assert.Equal(t, "stor/a/", s.dirKey("/a"))
	assert.Equal(t, "stor/", s.dirKey("/"))

	bare, _ := newStore(t, "")
	assert.Equal(t, "a", bare.objectKey("a"))
	assert.Equal(t, "", bare.dirKey("/"))
}

func TestInfoFileAndDirectory(t *testing.T) {
	ctx := context.Background()
	s, fake := newStore(t, "p")
	fake.objects["p/docs/readme.md"] = []byte("# hi")
	fake.objects["p/empty/"] = nil

	info, err := s.Info(ctx, "/docs/readme.md")
	require.NoError(t, err)
	assert.False(t, info.IsDirectory)
	assert.EqualValues(t, 4, info.Size)
	assert.Equal(t, "etag-p/docs/readme.md", info.ETag)
	assert.Equal(t, "readme.md", info.Name)

	info, err = s.Info(ctx, "/docs")
	require.NoError(t, err)
	assert.True(t, info.IsDirectory)

	info, err = s.Info(ctx, "/empty")
	require.NoError(t, err)
	assert.True(t, info.IsDirectory)

	_, err = s.Info(ctx, "/nothing")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestListMergesPrefixesAndObjects(t *testing.T) {
	ctx := context.Background()
	s, fake := newStore(t, "")
	fake.objects["d/"] = nil
	fake.objects["d/b.txt"] = []byte("bb")
	fake.objects["d/a/x"] = []byte("x")
	fake.objects["d/c/"] = nil

	var got []remote.Info
	require.NoError(t, s.List(ctx, "/d", func(i *remote.Info) error {
		got = append(got, *i)
		return nil
	}))

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Name)
	assert.True(t, got[0].IsDirectory)
	assert.Equal(t, "b.txt", got[1].Name)
	assert.EqualValues(t, 2, got[1].Size)
	assert.Equal(t, "c", got[2].Name)
	assert.True(t, got[2].IsDirectory)
}

func TestListMissingDirectory(t *testing.T) {
	s, _ := newStore(t, "")
	err := s.List(context.Background(), "/ghost", func(*remote.Info) error { return nil })
	assert.ErrorIs(t, err, remote.ErrNotFound)

	// The root always lists, even when the bucket is empty.
	assert.NoError(t, s.List(context.Background(), "/", func(*remote.Info) error { return nil }))
}

func TestGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s, fake := newStore(t, "")

	require.NoError(t, s.Put(ctx, "/f.txt", strings.NewReader("data"), 4))
	assert.Equal(t, []byte("data"), fake.objects["f.txt"])

	rc, err := s.Get(ctx, "/f.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "data", string(body))

	require.NoError(t, s.Delete(ctx, "/f.txt"))
	_, err = s.Get(ctx, "/f.txt")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestMkdirAndDeleteDirectory(t *testing.T) {
	ctx := context.Background()
	s, fake := newStore(t, "")

	require.NoError(t, s.Mkdir(ctx, "/dir"))
	_, ok := fake.objects["dir/"]
	assert.True(t, ok)

	require.NoError(t, s.Put(ctx, "/dir/f", strings.NewReader("1"), 1))
	assert.ErrorIs(t, s.Delete(ctx, "/dir"), remote.ErrNotEmpty)

	require.NoError(t, s.Delete(ctx, "/dir/f"))
	require.NoError(t, s.Delete(ctx, "/dir"))
	assert.Empty(t, fake.objects)

	assert.Error(t, s.Delete(ctx, "/"))
}
