// Package s3 implements remote.Store on top of an S3 compatible bucket.
//
// The bucket mirrors the gateway namespace: "/a/b.txt" lives at key
// "<prefix>a/b.txt". Directories are either explicit zero-byte markers
// ("<prefix>a/") or implied by any key below them.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// API is the subset of *s3.Client the store calls.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config selects the bucket and key namespace.
type Config struct {
	Client    API
	Bucket    string
	KeyPrefix string
}

// Store is a remote.Store backed by S3.
type Store struct {
	client    API
	bucket    string
	keyPrefix string
}

var _ remote.Store = (*Store)(nil)

// New verifies the bucket is reachable and returns a store over it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: prefix,
	}, nil
}

// objectKey maps a gateway path to its object key.
func (s *Store) objectKey(p string) string {
	return s.keyPrefix + strings.TrimPrefix(remote.Clean(p), "/")
}

// dirKey maps a gateway path to the prefix its children share.
func (s *Store) dirKey(p string) string {
	p = remote.Clean(p)
	if p == "/" {
		return s.keyPrefix
	}
	return s.objectKey(p) + "/"
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

func baseName(p string) string {
	p = remote.Clean(p)
	if p == "/" {
		return "/"
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

func (s *Store) Info(ctx context.Context, p string) (*remote.Info, error) {
	p = remote.Clean(p)
	if p == "/" {
		return &remote.Info{Name: "/", IsDirectory: true}, nil
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err == nil {
		info := &remote.Info{
			Name:    baseName(p),
			Size:    uint64(aws.ToInt64(head.ContentLength)),
			ETag:    trimETag(head.ETag),
			MD5:     head.Metadata["content-md5"],
			ModTime: aws.ToTime(head.LastModified),
		}
		return info, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("head %s: %w", p, err)
	}

	// No object at the key. Any key under key/ makes it a directory.
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("probe directory %s: %w", p, err)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return nil, fmt.Errorf("info %s: %w", p, remote.ErrNotFound)
	}

	info := &remote.Info{Name: baseName(p), IsDirectory: true}
	if len(out.Contents) > 0 && aws.ToString(out.Contents[0].Key) == s.dirKey(p) {
		info.ModTime = aws.ToTime(out.Contents[0].LastModified)
	}
	return info, nil
}

func (s *Store) List(ctx context.Context, p string, fn func(*remote.Info) error) error {
	p = remote.Clean(p)
	prefix := s.dirKey(p)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	children := make(map[string]*remote.Info)
	marker := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", p, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			children[name] = &remote.Info{Name: name, IsDirectory: true}
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				marker = true
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			if _, isDir := children[name]; isDir {
				continue
			}
			children[name] = &remote.Info{
				Name:    name,
				Size:    uint64(aws.ToInt64(obj.Size)),
				ETag:    trimETag(obj.ETag),
				ModTime: aws.ToTime(obj.LastModified),
			}
		}
	}

	if len(children) == 0 && !marker && p != "/" {
		if _, err := s.Info(ctx, p); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := fn(children[name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get %s: %w", p, remote.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return out.Body, nil
}

func (s *Store) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(p)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", p, err)
	}
	logger.Debug("S3 put: key=%s size=%d", s.objectKey(p), size)
	return nil
}

func (s *Store) Mkdir(ctx context.Context, p string) error {
	if remote.Clean(p) == "/" {
		return nil
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.dirKey(p)),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create directory marker %s: %w", p, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	if remote.Clean(p) == "/" {
		return fmt.Errorf("delete /: root cannot be removed")
	}
	info, err := s.Info(ctx, p)
	if err != nil {
		return err
	}

	key := s.objectKey(p)
	if info.IsDirectory {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(s.bucket),
			Prefix:  aws.String(s.dirKey(p)),
			MaxKeys: aws.Int32(2),
		})
		if err != nil {
			return fmt.Errorf("probe directory %s: %w", p, err)
		}
		for _, obj := range out.Contents {
			if aws.ToString(obj.Key) != s.dirKey(p) {
				return fmt.Errorf("delete %s: %w", p, remote.ErrNotEmpty)
			}
		}
		key = s.dirKey(p)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", p, err)
	}
	return nil
}
