package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/remote"
)

// Lister is the part of remote.Store directory materialization needs.
type Lister interface {
	List(ctx context.Context, p string, fn func(*remote.Info) error) error
}

// Listing is a materialized directory snapshot.
type Listing struct {
	Handle  string
	Version uint64
	Entries []remote.Info
}

// CacheDirectory makes the listing of directory p resident and returns its
// handle. A resident listing is returned as is. Otherwise the children are
// listed through lister and written one JSON record per line.
func (e *Engine) CacheDirectory(ctx context.Context, p string, lister Lister) (string, error) {
	p = remote.Clean(p)

	if entry, ok := e.Get(p); ok && entry.IsDirectory {
		return entry.Handle, nil
	}

	w, err := e.BeginWrite(ctx, p, WriteOptions{IsDirectory: true})
	if err != nil {
		return "", err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	n := 0
	err = lister.List(ctx, p, func(info *remote.Info) error {
		n++
		return enc.Encode(info)
	})
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		w.Abort(err)
		return "", fmt.Errorf("cache directory %s: %w", p, err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	logger.Debug("cache_directory(%s): %d entries, handle=%s", p, n, w.Handle())
	return w.Handle(), nil
}

// ReadDirectory decodes the resident listing of p.
func (e *Engine) ReadDirectory(p string) (*Listing, error) {
	p = remote.Clean(p)

	entry, ok := e.Get(p)
	if !ok {
		e.metrics.RecordMiss()
		return nil, fmt.Errorf("%s: %w", p, ErrFileNotCached)
	}
	if !entry.IsDirectory {
		return nil, fmt.Errorf("%s: not a directory listing", p)
	}

	r, err := e.BeginRead(p)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	listing := &Listing{Handle: entry.Handle, Version: entry.Version}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var info remote.Info
		if err := json.Unmarshal(scanner.Bytes(), &info); err != nil {
			return nil, fmt.Errorf("decode listing of %s: %w", p, err)
		}
		listing.Entries = append(listing.Entries, info)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read listing of %s: %w", p, err)
	}
	return listing, nil
}
