// Package badger implements a BlockFS device on top of BadgerDB.
//
// The volume image is split into fixed-size pages, each stored under its own
// key. Writes are applied in a single read-modify-write transaction, so a
// WriteAt is either fully visible or not visible at all.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/blockfs/pkg/store/device"
)

// DefaultPageSize is the page size used when the config leaves it at zero.
const DefaultPageSize = 4096

// Key schema:
//
//	"s"                  -> int64 volume length (big-endian)
//	"p" + uint64(index)  -> page bytes (exactly pageSize, zero-padded)
var (
	keySize    = []byte("s")
	pagePrefix = []byte("p")
)

func keyPage(index int64) []byte {
	key := make([]byte, len(pagePrefix)+8)
	copy(key, pagePrefix)
	binary.BigEndian.PutUint64(key[len(pagePrefix):], uint64(index))
	return key
}

// BadgerDevice implements device.Device using BadgerDB for persistence.
//
// Thread Safety:
// BadgerDB transactions are safe for concurrent use. Readers see a consistent
// snapshot of size and pages because both are read inside one View txn.
type BadgerDevice struct {
	db       *badger.DB
	pageSize int64
	inMemory bool
	closed   atomic.Bool
}

// BadgerDeviceConfig configures a BadgerDevice.
type BadgerDeviceConfig struct {
	// DBPath is the BadgerDB directory. Required unless InMemory is set.
	DBPath string

	// PageSize is the page granularity. Zero means DefaultPageSize.
	// Must not change for an existing database.
	PageSize int64

	// InMemory runs BadgerDB without touching disk (tests).
	InMemory bool
}

// NewBadgerDevice opens (or creates) the BadgerDB database backing a volume.
func NewBadgerDevice(ctx context.Context, config BadgerDeviceConfig) (*BadgerDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if config.DBPath == "" && !config.InMemory {
		return nil, fmt.Errorf("badger device: db_path is required")
	}

	pageSize := config.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < 0 {
		return nil, fmt.Errorf("badger device: invalid page size %d", pageSize)
	}

	opts := badger.DefaultOptions(config.DBPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING) // Reduce log noise
	opts = opts.WithCompression(options.None)    // Pages are tiny, compression is not worth it

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	return &BadgerDevice{
		db:       db,
		pageSize: pageSize,
		inMemory: config.InMemory,
	}, nil
}

// getSize reads the stored length inside txn. A missing key means length 0.
func getSize(txn *badger.Txn) (int64, error) {
	item, err := txn.Get(keySize)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get volume size: %w", err)
	}

	var size int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt volume size record (%d bytes)", len(val))
		}
		size = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return size, err
}

func setSize(txn *badger.Txn, size int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(size))
	return txn.Set(keySize, buf[:])
}

// getPage returns a copy of the page, or a zero page if it was never written.
func (d *BadgerDevice) getPage(txn *badger.Txn, index int64) ([]byte, error) {
	page := make([]byte, d.pageSize)

	item, err := txn.Get(keyPage(index))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return page, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page %d: %w", index, err)
	}

	err = item.Value(func(val []byte) error {
		copy(page, val)
		return nil
	})
	return page, err
}

func (d *BadgerDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, device.ErrNegativeOffset
	}
	if d.closed.Load() {
		return 0, device.ErrClosed
	}

	var n int
	err := d.db.View(func(txn *badger.Txn) error {
		size, err := getSize(txn)
		if err != nil {
			return err
		}
		if off >= size {
			if len(p) == 0 {
				return nil
			}
			return io.EOF
		}

		want := p
		if avail := size - off; int64(len(want)) > avail {
			want = want[:avail]
		}

		for n < len(want) {
			pos := off + int64(n)
			index := pos / d.pageSize
			pageOff := pos % d.pageSize

			page, err := d.getPage(txn, index)
			if err != nil {
				return err
			}
			n += copy(want[n:], page[pageOff:])
		}

		if len(want) < len(p) {
			return io.EOF
		}
		return nil
	})
	return n, err
}

func (d *BadgerDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, device.ErrNegativeOffset
	}
	if d.closed.Load() {
		return 0, device.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	err := d.db.Update(func(txn *badger.Txn) error {
		written := 0
		for written < len(p) {
			pos := off + int64(written)
			index := pos / d.pageSize
			pageOff := pos % d.pageSize

			page, err := d.getPage(txn, index)
			if err != nil {
				return err
			}
			written += copy(page[pageOff:], p[written:])

			if err := txn.Set(keyPage(index), page); err != nil {
				return fmt.Errorf("failed to set page %d: %w", index, err)
			}
		}

		size, err := getSize(txn)
		if err != nil {
			return err
		}
		if end := off + int64(len(p)); end > size {
			return setSize(txn, end)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *BadgerDevice) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.closed.Load() {
		return 0, device.ErrClosed
	}

	var size int64
	err := d.db.View(func(txn *badger.Txn) error {
		var err error
		size, err = getSize(txn)
		return err
	})
	return size, err
}

// Truncate sets the volume length. Pages wholly beyond the new length are
// deleted and the tail of the last page is zeroed, so growing again reads
// back zeros.
func (d *BadgerDevice) Truncate(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if size < 0 {
		return device.ErrNegativeSize
	}
	if d.closed.Load() {
		return device.ErrClosed
	}

	return d.db.Update(func(txn *badger.Txn) error {
		oldSize, err := getSize(txn)
		if err != nil {
			return err
		}

		if size < oldSize {
			lastPage := (oldSize - 1) / d.pageSize
			firstDropped := (size + d.pageSize - 1) / d.pageSize

			for index := firstDropped; index <= lastPage; index++ {
				if err := txn.Delete(keyPage(index)); err != nil {
					return fmt.Errorf("failed to delete page %d: %w", index, err)
				}
			}

			if rem := size % d.pageSize; rem != 0 {
				index := size / d.pageSize
				page, err := d.getPage(txn, index)
				if err != nil {
					return err
				}
				clear(page[rem:])
				if err := txn.Set(keyPage(index), page); err != nil {
					return fmt.Errorf("failed to set page %d: %w", index, err)
				}
			}
		}

		return setSize(txn, size)
	})
}

// Sync flushes BadgerDB's value log to disk.
func (d *BadgerDevice) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed.Load() {
		return device.ErrClosed
	}
	if d.inMemory {
		return nil
	}
	if err := d.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync BadgerDB: %w", err)
	}
	return nil
}

// Close closes the database. Safe to call more than once.
func (d *BadgerDevice) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}
