package handlers

import "context"

// NFSHandlerContext is the unified context passed to every NFSv3 handler.
//
// The gateway performs no access control of its own, so the credentials
// are only used for logging.
type NFSHandlerContext struct {
	// Context carries cancellation from the connection. Handlers check it
	// before starting remote operations.
	Context context.Context

	// ClientAddr is the network address of the client ("IP:port").
	ClientAddr string

	// AuthFlavor is the RPC authentication flavor (0 AUTH_NULL, 1 AUTH_UNIX).
	AuthFlavor uint32

	// UID, GID and GIDs come from AUTH_UNIX credentials and are nil or
	// empty for other flavors.
	UID  *uint32
	GID  *uint32
	GIDs []uint32
}

// GetContext returns the Go context for cancellation handling.
func (c *NFSHandlerContext) GetContext() context.Context {
	if c.Context == nil {
		return context.Background()
	}
	return c.Context
}

// GetClientAddr returns the client's network address.
func (c *NFSHandlerContext) GetClientAddr() string {
	return c.ClientAddr
}

// GetAuthFlavor returns the RPC authentication flavor.
func (c *NFSHandlerContext) GetAuthFlavor() uint32 {
	return c.AuthFlavor
}
