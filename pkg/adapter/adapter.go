package adapter

import (
	"context"
)

// Adapter is a protocol listener managed by the gateway server.
//
// Lifecycle:
//  1. Creation: the adapter is built with its configuration and programs.
//  2. Listen: the socket is bound. Binding privileged ports happens here,
//     before the server drops privileges.
//  3. Serve: connections are accepted until the context is cancelled.
//  4. Stop: graceful shutdown with a timeout.
//
// Implementations must be safe for concurrent use: Stop may be called
// while Serve is running.
type Adapter interface {
	// Listen binds the listening socket. It is called exactly once, before
	// Serve.
	Listen() error

	// Serve accepts connections and blocks until ctx is cancelled or an
	// unrecoverable error occurs.
	//
	// If Serve returns before cancellation, the server treats it as fatal
	// and stops all other adapters.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. It is idempotent and honours the
	// ctx deadline.
	Stop(ctx context.Context) error

	// Protocol returns the name used in logs and metrics ("NFS", "MOUNT").
	Protocol() string

	// Port returns the bound TCP port, or the configured one before Listen.
	Port() int
}
