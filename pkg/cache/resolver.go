package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
)

// HandleToPath resolves a file handle to its logical path. Handles survive
// eviction, so a handle for an evicted object still resolves.
func (e *Engine) HandleToPath(ctx context.Context, handle string) (string, error) {
	if err := e.checkReady(); err != nil {
		return "", err
	}

	raw, err := e.store.Get(ctx, handlesKey(handle))
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return "", fmt.Errorf("handle %s: %w", handle, ErrUnknownHandle)
		}
		return "", fmt.Errorf("lookup handle %s: %w", handle, err)
	}

	var rec handleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("decode handle %s: %w", handle, err)
	}
	if err := validate.Struct(&rec); err != nil {
		return "", fmt.Errorf("handle %s schema: %w", handle, err)
	}

	logger.Debug("lookup(%s): done: %s", handle, rec.Name)
	return rec.Name, nil
}

// PathToHandle returns the handle of p, allocating and persisting one on
// first reference.
func (e *Engine) PathToHandle(ctx context.Context, p string) (string, error) {
	if err := e.checkReady(); err != nil {
		return "", err
	}
	p = remote.Clean(p)

	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	h, ops, err := e.handleForLocked(ctx, p)
	if err != nil {
		return "", err
	}
	if len(ops) > 0 {
		if err := e.store.Batch(ctx, ops); err != nil {
			return "", fmt.Errorf("persist handle for %s: %w", p, err)
		}
		logger.Debug("allocated handle %s for %s", h, p)
	}
	return h, nil
}

// handleForLocked returns the handle for p plus the writes needed to persist
// it when it is new. Callers hold handleMu until those writes are applied.
func (e *Engine) handleForLocked(ctx context.Context, p string) (string, []metadata.Op, error) {
	raw, err := e.store.Get(ctx, pathsKey(p))
	if err == nil {
		return string(raw), nil, nil
	}
	if !errors.Is(err, metadata.ErrNotFound) {
		return "", nil, fmt.Errorf("lookup handle of %s: %w", p, err)
	}

	h := uuid.NewString()
	rec, err := json.Marshal(handleRecord{Name: p})
	if err != nil {
		return "", nil, err
	}
	return h, []metadata.Op{
		metadata.Put(handlesKey(h), rec),
		metadata.Put(pathsKey(p), []byte(h)),
	}, nil
}
