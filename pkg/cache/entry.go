package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	filesPrefix   = "fscache:files:"
	handlesPrefix = "fscache:fhandles:"
	pathsPrefix   = "fscache:paths:"
)

func filesKey(p string) string   { return filesPrefix + p }
func handlesKey(h string) string { return handlesPrefix + h }
func pathsKey(p string) string   { return pathsPrefix + p }

var validate = validator.New()

// Entry is the durable record of one resident object.
type Entry struct {
	// Handle is the stable file handle of Name (a UUID string).
	Handle string `json:"fhandle" validate:"required,len=36"`

	// Name is the logical path in the remote store.
	Name string `json:"name" validate:"required,startswith=/"`

	// Path is the backing file on local disk.
	Path string `json:"path" validate:"required"`

	Size        int64  `json:"size" validate:"gte=0"`
	Expire      int64  `json:"expire" validate:"required"` // unix milliseconds
	Dirty       bool   `json:"dirty"`
	IsDirectory bool   `json:"is_directory"`
	ETag        string `json:"etag,omitempty"`
	MD5         string `json:"md5,omitempty"`

	// Version changes every time Name is rematerialized.
	Version uint64 `json:"version"`
}

// handleRecord is stored under fscache:fhandles:<handle>.
type handleRecord struct {
	Name string `json:"name" validate:"required"`
}

func (e *Entry) expired(now time.Time) bool {
	return now.UnixMilli() >= e.Expire
}

// ExpiresAt returns the expiry as a time.
func (e *Entry) ExpiresAt() time.Time {
	return time.UnixMilli(e.Expire)
}

func (e *Entry) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if err := validate.Struct(&e); err != nil {
		return nil, fmt.Errorf("cache entry schema: %w", err)
	}
	return &e, nil
}
