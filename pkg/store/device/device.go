// Package device defines the persistent block store that backs a BlockFS volume.
//
// A Device is a fixed-size, random-access byte container. The storage engine
// (pkg/fs) lays out its metadata region and data blocks on top of it and never
// assumes anything about where the bytes actually live: a local file, process
// memory, a BadgerDB database or an S3 object.
//
// Implementations:
//   - file:   a single file on the local filesystem (default)
//   - memory: a byte slice, for tests and ephemeral volumes
//   - badger: fixed-size pages stored in an embedded BadgerDB
//   - s3:     an in-memory mirror persisted as one S3 object on Sync
package device

import (
	"context"
	"errors"
	"io"
)

// Device is the persistent block store used by the storage engine.
//
// ReadAt and WriteAt follow the io.ReaderAt / io.WriterAt contracts. A read
// that extends past Size returns the available bytes and io.EOF, like
// os.File.ReadAt. A write past Size grows the device.
//
// Thread Safety:
// Implementations must be safe for concurrent ReadAt calls. The engine
// serializes all WriteAt, Truncate and Sync calls under its own lock, but
// implementations should not rely on that for memory safety.
type Device interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the current length of the device in bytes.
	Size(ctx context.Context) (int64, error)

	// Truncate changes the length of the device. Growing the device fills
	// the new range with zeros.
	Truncate(ctx context.Context, size int64) error

	// Sync makes every completed write durable according to the backend's
	// own durability model (fsync, database commit, object upload).
	Sync(ctx context.Context) error

	// Close releases all resources held by the device. Further calls on a
	// closed device return ErrClosed.
	Close() error
}

var (
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device is closed")

	// ErrNegativeOffset is returned when a read or write offset is negative.
	ErrNegativeOffset = errors.New("negative offset")

	// ErrNegativeSize is returned by Truncate when size is negative.
	ErrNegativeSize = errors.New("negative size")
)
