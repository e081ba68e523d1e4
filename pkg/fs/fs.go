// Package fs implements the BlockFS storage engine.
//
// A volume is a single device holding a fixed-layout metadata region followed
// by MaxBlocks data blocks of BlockSize bytes. Files live in one of MaxFiles
// inode slots and their contents are stored as a singly linked chain of
// allocation table slots, each pointing at one data block.
//
// Every mutating operation rewrites the whole metadata region and syncs the
// device before it returns, so a successful call is visible to the next
// operation and survives a restart of the process. A mutation that fails with
// an I/O error is undone on the device from an in-memory undo log. There is no
// on-disk journal: a crash in the middle of a write can leave the volume
// inconsistent.
package fs

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/blockfs/internal/logger"
	"github.com/marmos91/blockfs/pkg/store/device"
)

// Options configures Open.
type Options struct {
	// TotalSize is the length a new (zero-length) device is extended to.
	// Values below MinDeviceSize are raised to MinDeviceSize.
	TotalSize int64
}

// FileInfo describes one file.
type FileInfo struct {
	// Name is the file name
	Name string

	// Size is the file length in bytes
	Size int

	// Slot is the inode slot index
	Slot int

	// Blocks are the data blocks holding the contents, in file order
	Blocks []int
}

// Statistics summarizes volume usage.
type Statistics struct {
	FilesUsed   int
	FilesTotal  int
	BlocksUsed  int
	BlocksTotal int
	SlotsUsed   int
	BytesUsed   int64
}

// FileSystem is a BlockFS volume opened on a device.
//
// Thread Safety:
// All methods are safe for concurrent use. ReadFile, ListFiles, Stat and
// Statistics share a read lock and run in parallel. CreateFile, WriteFile and
// DeleteFile hold the write lock across the table update, the device writes,
// the metadata rewrite and the sync.
type FileSystem struct {
	mu   sync.RWMutex
	dev  device.Device
	meta *Metadata

	// undo collects pre-images while mutate runs; nil otherwise
	undo *[]undoRecord
}

// Open opens the volume stored on dev.
//
// A zero-length device is formatted: it is extended to
// max(MinDeviceSize, opts.TotalSize), the tables are initialized empty and
// the metadata region is written once. Otherwise the tables are decoded from
// the metadata region.
//
// Parameters:
//   - ctx: Context for cancellation (checked before touching the device)
//   - dev: Backing device; owned by the returned FileSystem
//   - opts: Formatting options
//
// Returns:
//   - *FileSystem: Opened volume
//   - error: ErrIOError if the device fails, ErrCorrupt if the device is too
//     small or the metadata region does not decode
func Open(ctx context.Context, dev device.Device, opts Options) (*FileSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size, err := dev.Size(ctx)
	if err != nil {
		return nil, errIO("open", err)
	}

	fs := &FileSystem{dev: dev}

	if size == 0 {
		total := max(int64(MinDeviceSize), opts.TotalSize)
		if err := dev.Truncate(ctx, total); err != nil {
			return nil, errIO("format", err)
		}

		fs.meta = NewMetadata()
		if err := fs.persist(ctx); err != nil {
			return nil, err
		}

		logger.Info("Formatted new volume (%d bytes, %d files, %d blocks of %d bytes)",
			total, MaxFiles, MaxBlocks, BlockSize)
		return fs, nil
	}

	if size < MinDeviceSize {
		return nil, errCorrupt("device is %d bytes, need at least %d", size, MinDeviceSize)
	}

	buf := make([]byte, MetadataSize)
	if _, err := dev.ReadAt(buf, 0); err != nil {
		return nil, errIO("metadata read", err)
	}

	meta, err := DecodeMetadata(buf)
	if err != nil {
		return nil, err
	}
	fs.meta = meta

	stats := fs.statistics()
	logger.Info("Opened volume: %d/%d files, %d/%d blocks used",
		stats.FilesUsed, stats.FilesTotal, stats.BlocksUsed, stats.BlocksTotal)

	return fs, nil
}

// persist writes the encoded metadata region at offset 0 and syncs the device.
//
// Caller must hold fs.mu exclusively.
func (fs *FileSystem) persist(ctx context.Context) error {
	if err := fs.writeAt("metadata write", EncodeMetadata(fs.meta), 0); err != nil {
		return err
	}
	if err := fs.dev.Sync(ctx); err != nil {
		return errIO("sync", err)
	}
	return nil
}

// mutate runs fn under the write lock and persists the metadata on success.
// If fn or persist fails, every device range written since the start is put
// back, the metadata region included, and the in-memory tables are restored
// to their state before fn ran.
func (fs *FileSystem) mutate(ctx context.Context, fn func() error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	saved := *fs.meta
	var records []undoRecord
	fs.undo = &records
	defer func() { fs.undo = nil }()

	err := fn()
	if err == nil {
		err = fs.persist(ctx)
	}
	if err != nil {
		fs.undo = nil
		fs.rollback(ctx, records)
		*fs.meta = saved
		return err
	}
	return nil
}

// CreateFile creates an empty file.
//
// Returns ErrInvalidArgument for a bad name, ErrAlreadyExists if the name is
// taken and ErrNoSpace if every inode slot is used.
func (fs *FileSystem) CreateFile(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	err := fs.mutate(ctx, func() error {
		if fs.meta.findInode(name) != none {
			return errAlreadyExists(name)
		}

		slot := fs.meta.findFreeInode()
		if slot == none {
			return errNoInode()
		}

		fs.meta.Inodes[slot] = Inode{Name: name, Size: 0, First: none}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("CREATE %s", name)
	return nil
}

// WriteFile replaces the contents of an existing file with data.
//
// Capacity is checked before anything is released: the file may use the free
// blocks and chain slots plus the ones it already owns. If the check fails
// the volume is left untouched and ErrNoSpace is returned.
func (fs *FileSystem) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	err := fs.mutate(ctx, func() error {
		slot := fs.meta.findInode(name)
		if slot == none {
			return errNotFound(name)
		}
		ino := &fs.meta.Inodes[slot]

		if len(data) > MaxFileSize {
			return errTooLarge(name)
		}

		needed := blocksFor(len(data))
		freeBlocks, freeSlots := fs.meta.available(int32(ino.First))
		if needed > freeBlocks || needed > freeSlots {
			return errTooLarge(name)
		}

		if err := fs.releaseChain(int32(ino.First)); err != nil {
			return err
		}
		ino.First = none
		ino.Size = 0

		head, err := fs.buildChain(data)
		if err != nil {
			return err
		}

		ino.First = int16(head)
		ino.Size = int16(len(data))
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("WRITE %s (%d bytes, %d blocks)", name, len(data), blocksFor(len(data)))
	return nil
}

// ReadFile returns a copy of the file contents.
//
// An empty file returns an empty, non-nil slice without touching the device.
func (fs *FileSystem) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	slot := fs.meta.findInode(name)
	if slot == none {
		return nil, errNotFound(name)
	}
	ino := fs.meta.Inodes[slot]

	data := make([]byte, ino.Size)
	read := 0
	for _, block := range fs.meta.chainBlocks(int32(ino.First)) {
		if read >= len(data) {
			break
		}
		end := min(read+BlockSize, len(data))
		if _, err := fs.dev.ReadAt(data[read:end], blockOffset(block)); err != nil {
			return nil, errIO("block read", err)
		}
		read = end
	}

	if read < len(data) {
		return nil, errCorrupt("file %s: chain holds %d of %d bytes", name, read, len(data))
	}
	return data, nil
}

// DeleteFile removes a file, zero-filling and freeing its blocks.
func (fs *FileSystem) DeleteFile(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	err := fs.mutate(ctx, func() error {
		slot := fs.meta.findInode(name)
		if slot == none {
			return errNotFound(name)
		}

		if err := fs.releaseChain(int32(fs.meta.Inodes[slot].First)); err != nil {
			return err
		}
		fs.meta.Inodes[slot].clear()
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("DELETE %s", name)
	return nil
}

// ListFiles returns the names of all files in inode slot order.
func (fs *FileSystem) ListFiles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	names := make([]string, 0, MaxFiles)
	for _, ino := range fs.meta.Inodes {
		if !ino.IsFree() {
			names = append(names, ino.Name)
		}
	}
	return names, nil
}

// Stat returns the inode and block list of a file.
func (fs *FileSystem) Stat(ctx context.Context, name string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}
	if err := ValidateName(name); err != nil {
		return FileInfo{}, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	slot := fs.meta.findInode(name)
	if slot == none {
		return FileInfo{}, errNotFound(name)
	}
	ino := fs.meta.Inodes[slot]

	info := FileInfo{
		Name:   ino.Name,
		Size:   int(ino.Size),
		Slot:   slot,
		Blocks: []int{},
	}
	for _, block := range fs.meta.chainBlocks(int32(ino.First)) {
		info.Blocks = append(info.Blocks, int(block))
	}
	return info, nil
}

// Statistics returns a snapshot of volume usage.
func (fs *FileSystem) Statistics(ctx context.Context) Statistics {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.statistics()
}

// statistics computes usage. Caller must hold fs.mu.
func (fs *FileSystem) statistics() Statistics {
	stats := Statistics{
		FilesTotal:  MaxFiles,
		BlocksTotal: MaxBlocks,
	}
	for _, ino := range fs.meta.Inodes {
		if !ino.IsFree() {
			stats.FilesUsed++
			stats.BytesUsed += int64(ino.Size)
		}
	}
	stats.BlocksUsed, stats.SlotsUsed = fs.meta.usage()
	return stats
}

// Close syncs and closes the device.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.dev.Sync(context.Background()); err != nil {
		_ = fs.dev.Close()
		return fmt.Errorf("failed to sync device on close: %w", err)
	}
	return fs.dev.Close()
}
