// Package metadata defines the durable key-value store that backs the disk
// cache. It holds cache-entry records and file-handle records so that the
// in-memory cache index can be rebuilt after a restart.
package metadata

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("metadata: key not found")

// Op is one mutation inside a Batch. A nil Value with Delete set removes the key.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// Put builds a write operation for Batch.
func Put(key string, value []byte) Op {
	return Op{Key: key, Value: value}
}

// Del builds a delete operation for Batch.
func Del(key string) Op {
	return Op{Key: key, Delete: true}
}

// Store is an ordered key-value store.
//
// Implementations must be safe for concurrent use. Batch applies all of
// its operations atomically: after a crash either every operation is
// visible or none is.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Batch applies ops atomically.
	Batch(ctx context.Context, ops []Op) error

	// Scan calls fn for every key with the given prefix in key order.
	// Returning an error from fn stops the scan and is returned by Scan.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Close releases the underlying resources.
	Close() error
}
