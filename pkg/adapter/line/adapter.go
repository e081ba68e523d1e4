// Package line implements the BlockFS line protocol server.
//
// Each TCP connection is a session: the client sends one command per line and
// receives one reply line per command until it sends QUIT/EXIT or closes the
// connection. Sessions run in their own goroutine, bounded by a connection
// semaphore, and call the storage engine directly; the engine's own lock is
// the only synchronization between sessions.
package line

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/blockfs/internal/logger"
	"github.com/marmos91/blockfs/pkg/adapter"
	"github.com/marmos91/blockfs/pkg/metrics"
)

// LineAdapter implements the adapter.Adapter interface for the line protocol.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (sessions stop after their current command)
//  4. Wait for active sessions to complete (up to Timeouts.Shutdown)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses
// sync.Once so Stop() may be called any number of times.
type LineAdapter struct {
	config LineConfig

	// fsys is the shared storage engine, injected by SetFileSystem
	fsys adapter.FileSystem

	// metrics is never nil; New installs a no-op implementation
	metrics metrics.ServerMetrics

	// listenerMu guards listener against a Stop racing with Serve's Listen
	listenerMu sync.Mutex
	listener   net.Listener
	boundPort  atomic.Int32

	// activeConns tracks running sessions for graceful shutdown
	activeConns sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// connCount is the number of running sessions
	connCount atomic.Int32

	// connSemaphore bounds concurrent sessions; nil means unlimited
	connSemaphore chan struct{}

	// shutdownCtx is passed to every session and cancelled on shutdown
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps session ID to net.Conn for forced closure
	activeConnections sync.Map
}

// New creates a LineAdapter with the specified configuration.
//
// Zero values in config are replaced with defaults. Invalid configurations
// cause a panic (programmer error: pkg/config validates user input first).
//
// Parameters:
//   - config: Server configuration (port, limits, timeouts)
//   - serverMetrics: Optional metrics collector (nil for no metrics)
func New(config LineConfig, serverMetrics metrics.ServerMetrics) *LineAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid line adapter config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("Line connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("Line connection limit: unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	if serverMetrics == nil {
		serverMetrics = metrics.NewNoopServerMetrics()
	}

	return &LineAdapter{
		config:         config,
		metrics:        serverMetrics,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetFileSystem injects the shared storage engine.
//
// Thread safety:
// Called exactly once before Serve(), no synchronization needed.
func (s *LineAdapter) SetFileSystem(fsys adapter.FileSystem) {
	s.fsys = fsys
	logger.Debug("Line adapter storage engine configured")
}

// Serve starts the line server and blocks until the context is cancelled
// or an unrecoverable error occurs.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener fails to start or sessions had to be force-closed
//
// Thread safety:
// Serve() should only be called once per LineAdapter instance.
func (s *LineAdapter) Serve(ctx context.Context) error {
	if s.fsys == nil {
		return errors.New("line adapter: no file system configured")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create line listener on port %d: %w", s.config.Port, err)
	}

	s.listenerMu.Lock()
	select {
	case <-s.shutdown:
		// Stop() won the race before the listener existed
		s.listenerMu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	s.listener = listener
	s.boundPort.Store(int32(listener.Addr().(*net.TCPAddr).Port))
	s.listenerMu.Unlock()

	logger.Info("Line server listening on port %d", s.Port())
	logger.Debug("Line config: max_connections=%d max_line_bytes=%d read_timeout=%v write_timeout=%v idle_timeout=%v rate_limit=%v",
		s.config.MaxConnections, s.config.MaxLineBytes, s.config.Timeouts.Read,
		s.config.Timeouts.Write, s.config.Timeouts.Idle, s.config.RateLimit.Enabled)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Line shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	s.metrics.SetVolumeUsage(s.fsys.Statistics(ctx))

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting line connection: %v", err)
				continue
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		conn := NewLineConnection(s, tcpConn)
		s.activeConnections.Store(conn.id, tcpConn)

		s.metrics.RecordConnectionAccepted()
		currentConns := s.connCount.Load()
		s.metrics.SetActiveConnections(currentConns)

		logger.Debug("Line connection %s accepted from %s (active: %d)",
			conn.id, tcpConn.RemoteAddr(), currentConns)

		go func() {
			defer func() {
				s.activeConnections.Delete(conn.id)

				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				currentConns := s.connCount.Load()
				s.metrics.SetActiveConnections(currentConns)

				logger.Debug("Line connection %s closed (active: %d)", conn.id, currentConns)
			}()

			conn.Serve(s.shutdownCtx)
		}()
	}
}

// initiateShutdown closes the listener and cancels all sessions.
// Safe to call multiple times and from multiple goroutines.
func (s *LineAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Line shutdown initiated")

		s.listenerMu.Lock()
		close(s.shutdown)
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing line listener: %v", err)
			}
		}
		s.listenerMu.Unlock()

		s.cancelRequests()
	})
}

// gracefulShutdown waits for active sessions to complete or timeout.
//
// Sessions notice shutdownCtx between commands, so an idle client is
// disconnected promptly once its blocking read is interrupted. After the
// timeout every remaining connection is closed.
func (s *LineAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("Line graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.Timeouts.Shutdown)

	// Interrupt sessions blocked reading the next command
	s.interruptReads()

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Line graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.Timeouts.Shutdown):
		remaining := s.connCount.Load()
		logger.Warn("Line shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.Timeouts.Shutdown)

		s.forceCloseConnections()

		return fmt.Errorf("line shutdown timeout: %d connections force-closed", remaining)
	}
}

// interruptReads sets an immediate read deadline on every session so reads
// blocked waiting for the next command return and the session can observe
// shutdownCtx. Writes are unaffected: a command in flight still gets its reply.
func (s *LineAdapter) interruptReads() {
	now := time.Now()
	s.activeConnections.Range(func(key, value any) bool {
		_ = value.(net.Conn).SetReadDeadline(now)
		return true
	})
}

// forceCloseConnections closes all active TCP connections.
func (s *LineAdapter) forceCloseConnections() {
	logger.Info("Force-closing active line connections")

	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		id := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", id, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop initiates graceful shutdown of the line server.
//
// Stop is safe to call multiple times and concurrently with Serve(). It waits
// for active sessions until ctx is done.
//
// Returns:
//   - nil on successful graceful shutdown
//   - ctx.Err() if sessions were still active when ctx ended
func (s *LineAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()
	s.interruptReads()

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
		logger.Warn("Line shutdown context cancelled: %d connection(s) still active: %v",
			remaining, ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs the active session count and volume usage.
func (s *LineAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			stats := s.fsys.Statistics(ctx)
			logger.Info("Line metrics: active_connections=%d files=%d/%d blocks=%d/%d",
				s.connCount.Load(), stats.FilesUsed, stats.FilesTotal, stats.BlocksUsed, stats.BlocksTotal)
		}
	}
}

// GetActiveConnections returns the current number of active sessions.
func (s *LineAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the bound port once listening, otherwise the configured port.
func (s *LineAdapter) Port() int {
	if port := s.boundPort.Load(); port != 0 {
		return int(port)
	}
	return s.config.Port
}

// Protocol returns "LINE" as the protocol identifier.
func (s *LineAdapter) Protocol() string {
	return "LINE"
}
