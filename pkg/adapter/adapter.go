package adapter

import (
	"context"

	"github.com/marmos91/blockfs/pkg/fs"
)

// FileSystem is the storage engine surface used by protocol adapters.
// *fs.FileSystem satisfies it.
type FileSystem interface {
	CreateFile(ctx context.Context, name string) error
	WriteFile(ctx context.Context, name string, data []byte) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	DeleteFile(ctx context.Context, name string) error
	ListFiles(ctx context.Context) ([]string, error)
	Statistics(ctx context.Context) fs.Statistics
}

// Adapter represents a protocol-specific server adapter managed by BlockServer.
//
// Each adapter exposes the shared volume over one network protocol and
// provides a unified interface for lifecycle management.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration
//  2. Engine injection: SetFileSystem() provides the shared volume
//  3. Startup: Serve() starts the protocol server and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetFileSystem() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Wait for active sessions to finish (with timeout)
	//   - Clean up resources
	//
	// If Serve returns before context cancellation, BlockServer treats it as
	// a fatal error and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// SetFileSystem injects the shared storage engine.
	//
	// Called exactly once by BlockServer before Serve().
	SetFileSystem(fsys FileSystem)

	// Stop initiates graceful shutdown of the protocol server.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Respect the context timeout for shutdown operations
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter is listening on.
	//
	// Returns the configured port before Serve() binds the listener.
	Port() int
}
