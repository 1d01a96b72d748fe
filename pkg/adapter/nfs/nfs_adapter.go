package nfs

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	nfs "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs"
	"github.com/TritonDataCenter/manta-nfs/internal/ratelimiter"
	"github.com/TritonDataCenter/manta-nfs/pkg/metrics"
)

// NFSAdapter is a TCP ONC RPC listener serving a fixed set of programs.
//
// The gateway runs one per port: NFS and MOUNT on the nfs port, MOUNT on
// the mount port and, when embedded, PORTMAP on its own port.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (in-flight requests abort, idle reads wake)
//  4. Wait for active connections (up to ShutdownTimeout)
//  5. Force-close whatever is left
type NFSAdapter struct {
	name     string
	config   NFSConfig
	programs map[uint32]*nfs.Program

	listener net.Listener
	limiter  *ratelimiter.RateLimiter
	metrics  metrics.NFSMetrics

	activeConns  sync.WaitGroup
	shutdownOnce sync.Once
	shutdown     chan struct{}
	connCount    atomic.Int32

	// connSemaphore is nil when MaxConnections is 0 (unlimited).
	connSemaphore chan struct{}

	// shutdownCtx is handed to every connection and cancelled on shutdown.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for forced closure.
	activeConnections sync.Map
}

// NFSConfig holds the listener parameters of one adapter.
//
// Default values (applied by New if zero):
//   - Port: 2049
//   - ReadTimeout: 5m
//   - WriteTimeout: 30s
//   - IdleTimeout: 5m
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
type NFSConfig struct {
	// Bind is the listen address. Empty means all interfaces.
	Bind string `mapstructure:"bind"`

	// Port is the TCP port to listen on. New only defaults it when
	// negative, so 0 keeps its "any free port" meaning for tests.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections limits concurrent client connections. 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ReadTimeout bounds the read of one complete RPC record.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds the write of one reply.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes connections idle between requests.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Serve waits for connections to drain
	// before force-closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is the period of the connection count log line.
	// 0 picks the default; a negative value disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"`

	// RequestsPerSecond and Burst configure the token bucket applied to
	// incoming calls. 0 disables limiting. Limited calls get SYSTEM_ERR.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

func (c *NFSConfig) applyDefaults() {
	if c.Port < 0 {
		c.Port = 2049
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

func (c *NFSConfig) validate() error {
	if c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts: read=%v write=%v idle=%v",
			c.ReadTimeout, c.WriteTimeout, c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a stopped adapter named name serving programs. A nil
// nfsMetrics disables metrics.
func New(name string, config NFSConfig, programs []*nfs.Program, nfsMetrics metrics.NFSMetrics) (*NFSAdapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s adapter config: %w", name, err)
	}
	if len(programs) == 0 {
		return nil, fmt.Errorf("%s adapter: no programs", name)
	}

	table := make(map[uint32]*nfs.Program, len(programs))
	for _, p := range programs {
		table[p.Number] = p
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
	}

	if nfsMetrics == nil {
		nfsMetrics = metrics.NewNoopNFSMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &NFSAdapter{
		name:           name,
		config:         config,
		programs:       table,
		limiter:        ratelimiter.New(config.RequestsPerSecond, config.Burst),
		metrics:        nfsMetrics,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}, nil
}

// Listen binds the TCP listener.
func (s *NFSAdapter) Listen() error {
	addr := net.JoinHostPort(s.config.Bind, fmt.Sprintf("%d", s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", s.name, addr, err)
	}
	s.listener = listener
	logger.Info("%s: listening on tcp://%s", s.name, listener.Addr())
	return nil
}

// Serve accepts connections until ctx is cancelled or Stop is called. It
// binds the listener itself if Listen was not called.
func (s *NFSAdapter) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	logger.Debug("%s config: max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v rate=%d/%d",
		s.name, s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout,
		s.config.IdleTimeout, s.config.RequestsPerSecond, s.config.Burst)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("%s shutdown signal received: %v", s.name, ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := s.listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting %s connection: %v", s.name, err)
				continue
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		currentConns := s.connCount.Load()
		s.metrics.SetActiveConnections(currentConns)
		logger.Debug("%s connection accepted from %s (active: %d)", s.name, connAddr, currentConns)

		conn := NewNFSConnection(s, tcpConn)
		go func(addr string) {
			defer func() {
				s.activeConnections.Delete(addr)
				currentConns := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(currentConns)
				logger.Debug("%s connection closed from %s (active: %d)", s.name, addr, currentConns)
				s.activeConns.Done()
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr)
	}
}

// initiateShutdown closes the listener and cancels in-flight requests. It
// is safe to call more than once.
func (s *NFSAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("%s shutdown initiated", s.name)
		close(s.shutdown)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing %s listener: %v", s.name, err)
			}
		}

		s.cancelRequests()

		// Wake connections blocked waiting for their next request.
		s.activeConnections.Range(func(_, value any) bool {
			_ = value.(net.Conn).SetReadDeadline(time.Now())
			return true
		})
	})
}

// gracefulShutdown waits up to ShutdownTimeout for connections to finish,
// then force-closes the rest.
func (s *NFSAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("%s graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.name, activeCount, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("%s graceful shutdown complete", s.name)
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("%s shutdown timeout exceeded: %d connection(s) still active after %v, forcing closure",
			s.name, remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", s.name, remaining)
	}
}

func (s *NFSAdapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("%s: force-closed %d connection(s)", s.name, closedCount)
	}
}

// Stop initiates shutdown and waits for connections to drain or for ctx to
// expire.
func (s *NFSAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("%s shutdown context cancelled: %d connection(s) still active: %v",
			s.name, remaining, ctx.Err())
		return ctx.Err()
	}
}

func (s *NFSAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("%s metrics: active_connections=%d", s.name, s.connCount.Load())
		}
	}
}

// GetActiveConnections returns the current number of connections.
func (s *NFSAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the bound port once listening, the configured one before.
func (s *NFSAdapter) Port() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Port
}

// Protocol returns the adapter name.
func (s *NFSAdapter) Protocol() string {
	return s.name
}
