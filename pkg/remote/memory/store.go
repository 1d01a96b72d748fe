// Package memory provides an in-process remote.Store for tests and local
// experiments. Objects live in a btree ordered by path.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

type node struct {
	path  string
	dir   bool
	data  []byte
	etag  string
	md5   string
	mtime time.Time
}

func less(a, b *node) bool { return a.path < b.path }

// Store is a thread-safe in-memory remote store.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*node]
	now  func() time.Time
}

var _ remote.Store = (*Store)(nil)

// New returns an empty store containing only the root directory.
func New() *Store {
	s := &Store{
		tree: btree.NewG(32, less),
		now:  time.Now,
	}
	s.tree.ReplaceOrInsert(&node{path: "/", dir: true, mtime: s.now()})
	return s
}

func childPrefix(p string) string {
	if p == "/" {
		return "/"
	}
	return p + "/"
}

func parentOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// hasChildren must be called with s.mu held.
func (s *Store) hasChildren(p string) bool {
	prefix := childPrefix(p)
	found := false
	s.tree.AscendGreaterOrEqual(&node{path: prefix}, func(n *node) bool {
		if n.path == prefix {
			return true
		}
		found = strings.HasPrefix(n.path, prefix)
		return false
	})
	return found
}

// lookup must be called with s.mu held.
func (s *Store) lookup(p string) (*node, bool) {
	if n, ok := s.tree.Get(&node{path: p}); ok {
		return n, true
	}
	if s.hasChildren(p) {
		return &node{path: p, dir: true, mtime: s.now()}, true
	}
	return nil, false
}

func (n *node) info(name string) *remote.Info {
	return &remote.Info{
		Name:        name,
		IsDirectory: n.dir,
		Size:        uint64(len(n.data)),
		ETag:        n.etag,
		MD5:         n.md5,
		ModTime:     n.mtime,
	}
}

func baseName(p string) string {
	if p == "/" {
		return "/"
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

func (s *Store) Info(ctx context.Context, p string) (*remote.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = remote.Clean(p)

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.lookup(p)
	if !ok {
		return nil, fmt.Errorf("info %s: %w", p, remote.ErrNotFound)
	}
	return n.info(baseName(p)), nil
}

func (s *Store) List(ctx context.Context, p string, fn func(*remote.Info) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = remote.Clean(p)
	prefix := childPrefix(p)

	s.mu.RLock()
	dir, ok := s.lookup(p)
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("list %s: %w", p, remote.ErrNotFound)
	}
	if !dir.dir {
		s.mu.RUnlock()
		return fmt.Errorf("list %s: not a directory", p)
	}

	children := make(map[string]*remote.Info)
	s.tree.AscendGreaterOrEqual(&node{path: prefix}, func(n *node) bool {
		if !strings.HasPrefix(n.path, prefix) {
			return false
		}
		rest := n.path[len(prefix):]
		if rest == "" {
			return true
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name := rest[:i]
			if _, seen := children[name]; !seen {
				children[name] = &remote.Info{Name: name, IsDirectory: true, ModTime: n.mtime}
			}
			return true
		}
		children[rest] = n.info(rest)
		return true
	})
	s.mu.RUnlock()

	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(children[name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = remote.Clean(p)

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.tree.Get(&node{path: p})
	if !ok || n.dir {
		return nil, fmt.Errorf("get %s: %w", p, remote.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(n.data)), nil
}

func (s *Store) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = remote.Clean(p)

	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("put %s: short body: got %d of %d bytes", p, len(data), size)
	}
	sum := md5.Sum(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tree.Get(&node{path: p}); ok && existing.dir {
		return fmt.Errorf("put %s: is a directory", p)
	}
	s.tree.ReplaceOrInsert(&node{
		path:  p,
		data:  data,
		etag:  hex.EncodeToString(sum[:]),
		md5:   base64.StdEncoding.EncodeToString(sum[:]),
		mtime: s.now(),
	})
	return nil
}

func (s *Store) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = remote.Clean(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(parentOf(p)); !ok {
		return fmt.Errorf("mkdir %s: parent: %w", p, remote.ErrNotFound)
	}
	if n, ok := s.tree.Get(&node{path: p}); ok {
		if n.dir {
			return nil
		}
		return fmt.Errorf("mkdir %s: object exists", p)
	}
	s.tree.ReplaceOrInsert(&node{path: p, dir: true, mtime: s.now()})
	return nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = remote.Clean(p)
	if p == "/" {
		return fmt.Errorf("delete /: root cannot be removed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasChildren(p) {
		return fmt.Errorf("delete %s: %w", p, remote.ErrNotEmpty)
	}
	if _, ok := s.tree.Delete(&node{path: p}); !ok {
		return fmt.Errorf("delete %s: %w", p, remote.ErrNotFound)
	}
	return nil
}
