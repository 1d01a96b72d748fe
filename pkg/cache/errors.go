package cache

import (
	"errors"
	"fmt"
	"syscall"
)

// The sentinels wrap the errno they stand for, so errors.Is(err, syscall.ENOENT)
// and friends hold for anything the engine returns.
var (
	// ErrFileNotCached means no resident, unexpired entry exists for a path.
	ErrFileNotCached = fmt.Errorf("file not cached: %w", syscall.ENOENT)

	// ErrNotEnoughSpace means an object cannot be made resident within the budget.
	ErrNotEnoughSpace = fmt.Errorf("not enough cache space: %w", syscall.ENOSPC)

	// ErrWriteInProgress means a conflicting write is pending for the path.
	ErrWriteInProgress = fmt.Errorf("write in progress: %w", syscall.EBUSY)

	// ErrNotReady is returned by every operation before initialization completes.
	ErrNotReady = errors.New("cache not ready")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache closed")

	// ErrUnknownHandle means a file handle has no record in the metadata store.
	ErrUnknownHandle = errors.New("unknown file handle")
)
