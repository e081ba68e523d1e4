// Package file implements a BlockFS device backed by a single local file.
//
// This is the default backend. The volume file contains the metadata region
// followed by the data blocks, with no header of its own.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/blockfs/pkg/store/device"
)

// FileDevice implements device.Device using a local file.
//
// Thread Safety:
// os.File ReadAt/WriteAt are safe for concurrent use. The mutex only guards
// the closed state so that Close cannot race with an in-flight operation
// using a released descriptor.
type FileDevice struct {
	path string
	f    *os.File

	// syncWrites makes Sync call fsync. When false, Sync is a no-op and
	// durability relies on the OS page cache.
	syncWrites bool

	mu     sync.RWMutex
	closed bool
}

// FileDeviceConfig configures a FileDevice.
type FileDeviceConfig struct {
	// Path is the volume file. Created (with parent directories) if missing.
	Path string

	// SyncWrites enables fsync on every Sync call.
	SyncWrites bool
}

// NewFileDevice opens or creates the volume file at config.Path.
//
// Parameters:
//   - ctx: Context for cancellation (checked before touching the filesystem)
//   - config: Device configuration
//
// Returns:
//   - *FileDevice: Opened device
//   - error: If the directory or file cannot be created or opened
func NewFileDevice(ctx context.Context, config FileDeviceConfig) (*FileDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if config.Path == "" {
		return nil, fmt.Errorf("file device: path is required")
	}

	if dir := filepath.Dir(config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create volume directory: %w", err)
		}
	}

	f, err := os.OpenFile(config.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open volume file %s: %w", config.Path, err)
	}

	return &FileDevice{
		path:       config.Path,
		f:          f,
		syncWrites: config.SyncWrites,
	}, nil
}

func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, device.ErrNegativeOffset
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return 0, device.ErrClosed
	}
	return d.f.ReadAt(p, off)
}

func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, device.ErrNegativeOffset
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return 0, device.ErrClosed
	}
	return d.f.WriteAt(p, off)
}

func (d *FileDevice) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return 0, device.ErrClosed
	}

	info, err := d.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat volume file: %w", err)
	}
	return info.Size(), nil
}

func (d *FileDevice) Truncate(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if size < 0 {
		return device.ErrNegativeSize
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return device.ErrClosed
	}
	if err := d.f.Truncate(size); err != nil {
		return fmt.Errorf("failed to resize volume file: %w", err)
	}
	return nil
}

func (d *FileDevice) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return device.ErrClosed
	}
	if !d.syncWrites {
		return nil
	}
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("failed to fsync volume file: %w", err)
	}
	return nil
}

// Close closes the underlying file. Safe to call more than once.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.f.Close()
}

// Path returns the volume file path.
func (d *FileDevice) Path() string {
	return d.path
}
