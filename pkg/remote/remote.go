// Package remote defines the object store the gateway exposes over NFS.
//
// Paths are absolute, slash separated and cleaned ("/", "/a/b"). A directory
// exists when it was created with Mkdir or when any object lives below it.
package remote

import (
	"context"
	"fmt"
	"io"
	"path"
	"syscall"
	"time"
)

// ErrNotFound is returned when no object or directory exists at a path.
// It wraps ENOENT so the protocol layer maps it to NFS3ERR_NOENT.
var ErrNotFound = fmt.Errorf("remote object not found: %w", syscall.ENOENT)

// ErrNotEmpty is returned by Delete for a directory that still has children.
var ErrNotEmpty = fmt.Errorf("remote directory not empty: %w", syscall.ENOTEMPTY)

// Info describes one remote object or directory.
type Info struct {
	Name        string    `json:"name"`
	IsDirectory bool      `json:"is_directory"`
	Size        uint64    `json:"size"`
	ETag        string    `json:"etag,omitempty"`
	MD5         string    `json:"md5,omitempty"`
	ModTime     time.Time `json:"mtime"`
}

// Store is the remote object store collaborator.
type Store interface {
	// Info returns metadata for p, or ErrNotFound.
	Info(ctx context.Context, p string) (*Info, error)

	// List calls fn for each direct child of directory p in name order.
	// Returning an error from fn stops the listing and returns that error.
	List(ctx context.Context, p string, fn func(*Info) error) error

	// Get opens the content of object p. The caller closes the reader.
	Get(ctx context.Context, p string) (io.ReadCloser, error)

	// Put replaces the content of object p with size bytes read from r.
	Put(ctx context.Context, p string, r io.Reader, size int64) error

	// Mkdir creates directory p. Creating an existing directory succeeds.
	Mkdir(ctx context.Context, p string) error

	// Delete removes object or empty directory p.
	Delete(ctx context.Context, p string) error
}

// Clean normalizes p into the absolute form every Store expects.
func Clean(p string) string {
	return path.Clean("/" + p)
}
