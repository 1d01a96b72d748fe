package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
)

type item struct {
	key   string
	value []byte
}

func less(a, b item) bool {
	return a.key < b.key
}

// Store is an in-memory metadata.Store kept in a B-tree so that Scan
// returns keys in order, matching the badger implementation.
//
// Nothing survives a restart; use it for tests and throwaway gateways.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

var _ metadata.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{tree: btree.NewG(32, less)}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.tree.Get(item{key: key})
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.Batch(ctx, []metadata.Op{metadata.Put(key, value)})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Batch(ctx, []metadata.Op{metadata.Del(key)})
}

func (s *Store) Batch(ctx context.Context, ops []metadata.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		if op.Delete {
			s.tree.Delete(item{key: op.Key})
			continue
		}
		s.tree.ReplaceOrInsert(item{key: op.Key, value: append([]byte(nil), op.Value...)})
	}
	return nil
}

// Scan snapshots the matching items before calling fn, so fn may write
// back into the store.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	var matches []item

	s.mu.RLock()
	s.tree.AscendGreaterOrEqual(item{key: prefix}, func(it item) bool {
		if !strings.HasPrefix(it.key, prefix) {
			return false
		}
		matches = append(matches, item{key: it.key, value: append([]byte(nil), it.value...)})
		return true
	})
	s.mu.RUnlock()

	for _, it := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(it.key, it.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
