package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/blockfs/internal/logger"
	"github.com/marmos91/blockfs/pkg/adapter"
)

// stopTimeout bounds the Stop() calls issued during shutdown.
const stopTimeout = 30 * time.Second

// BlockServer manages the lifecycle of the protocol adapters that serve one
// BlockFS volume.
//
// Architecture:
// Every adapter shares the same storage engine, so clients see one consistent
// volume regardless of the adapter they connect to. The engine serializes
// mutations itself; the server adds no locking of its own around it.
//
// Lifecycle:
//  1. Creation: New() with the opened volume
//  2. Registration: AddAdapter() for each listener
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation triggers graceful shutdown of all adapters
//
// The volume is owned by the caller and must be closed after Serve returns.
//
// Thread safety:
// AddAdapter() may be called concurrently with Adapters(). Serve() may only
// be called once per server instance.
//
// Example usage:
//
//	server := New(volume)
//	server.AddAdapter(line.New(lineConfig, serverMetrics))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := server.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type BlockServer struct {
	// fsys is the shared storage engine for all adapters
	fsys adapter.FileSystem

	// adapters contains all registered protocol adapters
	adapters []adapter.Adapter

	// mu protects the adapters slice
	mu sync.RWMutex

	// served is set by the first Serve() call
	served atomic.Bool
}

// New creates a BlockServer around an opened volume.
//
// Panics if fsys is nil (indicates programmer error).
func New(fsys adapter.FileSystem) *BlockServer {
	if fsys == nil {
		panic("file system cannot be nil")
	}

	return &BlockServer{
		fsys:     fsys,
		adapters: make([]adapter.Adapter, 0, 1),
	}
}

// AddAdapter registers a protocol adapter and injects the shared volume.
//
// Returns an error if the protocol is already registered or another adapter
// uses the same fixed port. Port 0 (ephemeral) never conflicts.
//
// Panics if:
//   - adapter is nil (programmer error)
//   - Serve() has already been called (server is running)
func (s *BlockServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served.Load() {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetFileSystem(s.fsys)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)

	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// Shutdown behavior:
// When the context is cancelled or an adapter fails, every adapter receives a
// Stop() call in reverse registration order, bounded by stopTimeout, and
// Serve() waits for all adapter goroutines before returning.
//
// Returns:
//   - ctx.Err() if shutdown was triggered by context cancellation
//   - error if no adapter is registered or an adapter failed
//
// Panics if Serve() is called more than once on the same instance.
func (s *BlockServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served.Swap(true) {
		s.mu.Unlock()
		panic("Serve() has already been called on this server instance")
	}
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting BlockFS server with %d adapter(s)", len(adapters))

	// Buffered so that failing adapters never block
	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(ctx)
			switch {
			case err == nil:
				logger.Info("%s adapter stopped", protocol)
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				logger.Debug("%s adapter stopped: %v", protocol, err)
			default:
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	stats := s.fsys.Statistics(context.Background())
	logger.Info("BlockFS server stopped (files=%d/%d blocks=%d/%d)",
		stats.FilesUsed, stats.FilesTotal, stats.BlocksUsed, stats.BlocksTotal)

	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters signals every adapter to stop, in reverse registration order.
func (s *BlockServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}

// Adapters returns a copy of the registered adapters.
func (s *BlockServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
