// Package handlers implements the NFSv3 procedures (RFC 1813) on top of the
// gateway filesystem.
//
// Every procedure follows the same shape: decode the request, run an
// ordered chain of stages (resolve the handle, make the object resident,
// operate on it), and encode exactly one reply. A stage that fails sets the
// reply status and stops the chain. Protocol failures are reported through
// the response Status; a Go error is only returned when the connection
// should be dropped (for example a cancelled context).
package handlers

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/TritonDataCenter/manta-nfs/pkg/vfs"
)

// Handler serves NFSv3 procedures against one gateway filesystem.
type Handler struct {
	fs *vfs.FS

	// writeVerf changes on every restart so clients can detect that
	// unstable data may have been lost.
	writeVerf [8]byte
}

// New returns a Handler for fs.
func New(fs *vfs.FS) *Handler {
	h := &Handler{fs: fs}
	if _, err := rand.Read(h.writeVerf[:]); err != nil {
		binary.BigEndian.PutUint64(h.writeVerf[:], uint64(time.Now().UnixNano()))
	}
	return h
}

// FS returns the filesystem the handler serves.
func (h *Handler) FS() *vfs.FS { return h.fs }

// WriteVerifier returns the verifier sent in WRITE and COMMIT replies.
func (h *Handler) WriteVerifier() [8]byte { return h.writeVerf }
