package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/adapter"
)

// Server manages the lifecycle of the gateway's protocol adapters.
//
// Lifecycle:
//  1. Creation: New()
//  2. Registration: AddAdapter() for each listener (mountd, nfsd, portmapd)
//  3. Serve(): every adapter binds its socket, the OnListening hooks run
//     (privilege drop, portmapper registration), then all adapters serve
//     concurrently
//  4. Shutdown: context cancellation or the failure of any adapter stops
//     all adapters in reverse registration order
//
// Example usage:
//
//	srv := server.New(30 * time.Second)
//	srv.AddAdapter(mountAdapter)
//	srv.AddAdapter(nfsAdapter)
//	srv.OnListening(dropPrivileges)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type Server struct {
	mu       sync.RWMutex
	adapters []adapter.Adapter
	hooks    []func() error

	// stopTimeout bounds the Stop() calls issued on shutdown.
	stopTimeout time.Duration

	served atomic.Bool
}

// New creates a server with no adapters. stopTimeout defaults to 30s.
func New(stopTimeout time.Duration) *Server {
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &Server{
		adapters:    make([]adapter.Adapter, 0, 3),
		stopTimeout: stopTimeout,
	}
}

// AddAdapter registers a. Two adapters may not share a name or a fixed
// port. Adding an adapter after Serve has been called is an error.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return errors.New("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served.Load() {
		return errors.New("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// OnListening registers a hook run once every adapter is listening and
// before any connection is accepted. Hooks run in registration order; the
// first failure aborts Serve.
func (s *Server) OnListening(hook func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Serve binds and runs every adapter, blocking until ctx is cancelled or
// an adapter fails.
//
// Returns ctx.Err() after a cancellation-triggered shutdown, or the first
// startup or adapter error.
func (s *Server) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return errors.New("Serve() has already been called")
	}

	s.mu.RLock()
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	hooks := append([]func() error(nil), s.hooks...)
	s.mu.RUnlock()

	if len(adapters) == 0 {
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting server with %d adapter(s)", len(adapters))
	startTime := time.Now()

	for i, a := range adapters {
		if err := a.Listen(); err != nil {
			s.stopAllAdapters(adapters[:i])
			return fmt.Errorf("%s adapter: %w", a.Protocol(), err)
		}
	}

	for _, hook := range hooks {
		if err := hook(); err != nil {
			s.stopAllAdapters(adapters)
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			protocol := a.Protocol()
			logger.Debug("Serving %s adapter on port %d", protocol, a.Port())

			err := a.Serve(gctx)
			if gctx.Err() != nil {
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("%s adapter shutdown: %v", protocol, err)
				} else {
					logger.Info("%s adapter stopped", protocol)
				}
				return nil
			}

			// Serve returned on its own: that adapter is gone.
			if err == nil {
				err = errors.New("stopped unexpectedly")
			}
			logger.Error("%s adapter failed: %v - initiating shutdown of all adapters", protocol, err)
			return fmt.Errorf("%s adapter: %w", protocol, err)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		}
		s.stopAllAdapters(adapters)
		return nil
	})

	logger.Info("All adapters listening after %v", time.Since(startTime))

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Server stopped gracefully")
	return ctx.Err()
}

// stopAllAdapters stops adapters in reverse registration order, sharing
// one stopTimeout budget.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
