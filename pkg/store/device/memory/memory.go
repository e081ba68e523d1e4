// Package memory implements an in-memory BlockFS device.
package memory

import (
	"context"
	"sync/atomic"

	"github.com/marmos91/blockfs/pkg/store/device"
)

// MemoryDevice implements device.Device on top of a byte slice.
//
// It is designed for:
//   - Testing and development
//   - Ephemeral volumes that do not need to survive a restart
//
// Characteristics:
//   - Fast: every operation is memory-speed
//   - Volatile: contents are lost when the process exits
//   - Thread-safe: backed by device.Image
type MemoryDevice struct {
	img    *device.Image
	closed atomic.Bool
}

// NewMemoryDevice creates an empty in-memory device.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{img: device.NewImage(nil)}
}

// NewMemoryDeviceFrom creates an in-memory device holding a copy of data.
//
// Used by tests that need to open an engine over a prepared image.
func NewMemoryDeviceFrom(data []byte) *MemoryDevice {
	return &MemoryDevice{img: device.NewImage(data)}
}

func (d *MemoryDevice) ReadAt(p []byte, off int64) (int, error) {
	if d.closed.Load() {
		return 0, device.ErrClosed
	}
	return d.img.ReadAt(p, off)
}

func (d *MemoryDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.closed.Load() {
		return 0, device.ErrClosed
	}
	return d.img.WriteAt(p, off)
}

func (d *MemoryDevice) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.closed.Load() {
		return 0, device.ErrClosed
	}
	return d.img.Len(), nil
}

func (d *MemoryDevice) Truncate(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed.Load() {
		return device.ErrClosed
	}
	return d.img.Truncate(size)
}

// Sync is a no-op: memory has nothing to flush.
func (d *MemoryDevice) Sync(ctx context.Context) error {
	if d.closed.Load() {
		return device.ErrClosed
	}
	return ctx.Err()
}

func (d *MemoryDevice) Close() error {
	d.closed.Store(true)
	return nil
}

// Bytes returns a copy of the device contents.
func (d *MemoryDevice) Bytes() []byte {
	return d.img.Snapshot()
}
