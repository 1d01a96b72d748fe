package nfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	nfs "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/rpc"
)

// NFSConnection serves the RPC records of one TCP client in order.
type NFSConnection struct {
	server *NFSAdapter
	conn   net.Conn
}

func NewNFSConnection(server *NFSAdapter, conn net.Conn) *NFSConnection {
	return &NFSConnection{
		server,
		conn,
	}
}

// Serve handles requests until the client disconnects, a timeout fires or
// the server shuts down. A panic in a handler closes this connection only.
func (c *NFSConnection) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in %s connection handler from %s: %v",
				c.server.name, c.conn.RemoteAddr().String(), r)
		}
		_ = c.conn.Close()
	}()

	clientAddr := c.conn.RemoteAddr().String()
	c.resetIdle(clientAddr)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connection from %s closed due to context cancellation", clientAddr)
			return
		case <-c.server.shutdown:
			logger.Debug("Connection from %s closed due to server shutdown", clientAddr)
			return
		default:
		}

		if err := c.handleRequest(ctx, clientAddr); err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Connection from %s closed by client", clientAddr)
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug("Connection from %s timed out: %v", clientAddr, err)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				logger.Debug("Connection from %s cancelled: %v", clientAddr, err)
			default:
				logger.Debug("Error handling request from %s: %v", clientAddr, err)
			}
			return
		}

		c.resetIdle(clientAddr)
	}
}

func (c *NFSConnection) resetIdle(clientAddr string) {
	if c.server.config.IdleTimeout <= 0 {
		return
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
		logger.Warn("Failed to set deadline for %s: %v", clientAddr, err)
	}
}

// handleRequest reads one record, dispatches it and writes the reply. A
// returned error closes the connection.
func (c *NFSConnection) handleRequest(ctx context.Context, clientAddr string) error {
	if c.server.config.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	message, err := rpc.ReadRecord(c.conn, nfs.GetBuffer)
	if err != nil {
		return err
	}
	defer nfs.PutBuffer(message)
	c.server.metrics.RecordBytesTransferred("in", int64(len(message)))

	call, err := rpc.ReadCall(message)
	if err != nil {
		// Nothing to reply to without a well-formed call header.
		logger.Debug("Error parsing RPC call from %s: %v", clientAddr, err)
		c.server.metrics.RecordRejected("malformed")
		return nil
	}

	logger.Debug("RPC Call: XID=0x%x Program=%d Version=%d Procedure=%d",
		call.XID, call.Program, call.Version, call.Procedure)

	reply, err := c.dispatch(ctx, call, message, clientAddr)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	return c.sendReply(call.XID, reply)
}

// dispatch routes call to its procedure and returns the framed reply. A
// nil reply with a nil error means the call is dropped silently.
func (c *NFSConnection) dispatch(ctx context.Context, call *rpc.RPCCallMessage, message []byte, clientAddr string) ([]byte, error) {
	if call.RPCVersion != rpc.RPCVersion {
		logger.Debug("RPC version mismatch from %s: %d", clientAddr, call.RPCVersion)
		c.server.metrics.RecordRejected("rpc_mismatch")
		return rpc.MakeRPCMismatchReply(call.XID)
	}

	program, ok := c.server.programs[call.Program]
	if !ok {
		logger.Debug("%s: program %d unavailable (client=%s)", c.server.name, call.Program, clientAddr)
		c.server.metrics.RecordRejected("prog_unavail")
		return rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
	}

	if !program.Supports(call.Version) {
		logger.Debug("%s: version %d not supported (range %d-%d, client=%s)",
			program.Name, call.Version, program.Low, program.High, clientAddr)
		c.server.metrics.RecordRejected("prog_mismatch")
		return rpc.MakeProgMismatchReply(call.XID, program.Low, program.High)
	}

	proc, ok := program.Procedures[call.Procedure]
	if !ok {
		logger.Debug("%s: unknown procedure %d (client=%s)", program.Name, call.Procedure, clientAddr)
		c.server.metrics.RecordRejected("proc_unavail")
		return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
	}

	if !c.server.limiter.Allow() {
		logger.Debug("%s %s rate limited: client=%s", program.Name, proc.Name, clientAddr)
		c.server.metrics.RecordRejected("rate_limited")
		return rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
	}

	data, err := rpc.ReadData(message, call)
	if err != nil {
		logger.Debug("%s %s: %v (client=%s)", program.Name, proc.Name, err, clientAddr)
		c.server.metrics.RecordRejected("garbage_args")
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	}

	authCtx := nfs.ExtractAuthContext(ctx, call, clientAddr, proc.Name)
	if authCtx.UID != nil {
		logger.Debug("%s %s: uid=%d gid=%d ngids=%d",
			program.Name, proc.Name, *authCtx.UID, *authCtx.GID, len(authCtx.GIDs))
	} else {
		logger.Debug("%s %s: auth_flavor=%d", program.Name, proc.Name, authCtx.AuthFlavor)
	}

	metricName := program.MetricName(proc)
	c.server.metrics.RecordRequestStart(metricName)
	startTime := time.Now()
	body, err := proc.Handler(authCtx, data)
	c.server.metrics.RecordRequest(metricName, time.Since(startTime), err)
	c.server.metrics.RecordRequestEnd(metricName)

	switch {
	case err == nil:
		return rpc.MakeSuccessReply(call.XID, body)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Debug("%s %s cancelled: xid=0x%x client=%s error=%v",
			program.Name, proc.Name, call.XID, clientAddr, err)
		return nil, err
	case errors.Is(err, nfs.ErrGarbageArgs):
		logger.Debug("%s %s: %v (client=%s)", program.Name, proc.Name, err, clientAddr)
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	default:
		logger.Warn("%s %s failed: xid=0x%x client=%s error=%v",
			program.Name, proc.Name, call.XID, clientAddr, err)
		return rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
	}
}

// sendReply writes a framed reply, bounded by WriteTimeout.
func (c *NFSConnection) sendReply(xid uint32, reply []byte) error {
	if c.server.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := c.conn.Write(reply); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	c.server.metrics.RecordBytesTransferred("out", int64(len(reply)))

	logger.Debug("Sent reply for XID=0x%x (%d bytes)", xid, len(reply))
	return nil
}
