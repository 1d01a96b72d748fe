// Package handlers implements the MOUNT protocol (RFC 1813 Appendix I).
//
// MNT is the entry point for every client: it validates the path against
// the export table, checks that the remote location is a directory,
// materializes it and returns its file handle. The remaining procedures
// only read or update the registry's mount table.
package handlers

import (
	"context"

	"github.com/TritonDataCenter/manta-nfs/pkg/registry"
)

// Handler serves MOUNT procedures against a registry.
type Handler struct {
	reg *registry.Registry
}

// New returns a Handler backed by reg.
func New(reg *registry.Registry) *Handler {
	return &Handler{reg: reg}
}

// MountHandlerContext is passed to every MOUNT handler.
type MountHandlerContext struct {
	Context    context.Context
	ClientAddr string
	AuthFlavor uint32

	// Version is the MOUNT program version of the call (1 or 3).
	Version uint32

	UID  *uint32
	GID  *uint32
	GIDs []uint32
}

// GetContext returns the Go context for cancellation handling.
func (c *MountHandlerContext) GetContext() context.Context {
	if c.Context == nil {
		return context.Background()
	}
	return c.Context
}

// MountResponseBase is embedded by every MOUNT response.
type MountResponseBase struct {
	// Status is only meaningful for MNT; the other procedures have no
	// status on the wire and always report MountOK.
	Status uint32
}

// GetStatus returns the Mount protocol status code.
func (r *MountResponseBase) GetStatus() uint32 {
	return r.Status
}
