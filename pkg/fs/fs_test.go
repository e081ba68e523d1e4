package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/blockfs/pkg/store/device"
	"github.com/marmos91/blockfs/pkg/store/device/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) (*FileSystem, *memory.MemoryDevice) {
	t.Helper()
	dev := memory.NewMemoryDevice()
	fs, err := Open(context.Background(), dev, Options{})
	require.NoError(t, err)
	return fs, dev
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return data
}

func TestOpen_FormatsEmptyDevice(t *testing.T) {
	fs, dev := newTestFS(t)

	assert.Equal(t, MinDeviceSize, len(dev.Bytes()))
	assert.Equal(t, EncodeMetadata(NewMetadata()), dev.Bytes()[:MetadataSize])

	names, err := fs.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestOpen_HonorsTotalSize(t *testing.T) {
	ctx := context.Background()

	dev := memory.NewMemoryDevice()
	_, err := Open(ctx, dev, Options{TotalSize: 4096})
	require.NoError(t, err)
	assert.Len(t, dev.Bytes(), 4096)

	dev = memory.NewMemoryDevice()
	_, err = Open(ctx, dev, Options{TotalSize: 10})
	require.NoError(t, err)
	assert.Len(t, dev.Bytes(), MinDeviceSize)
}

func TestOpen_DeviceTooSmall(t *testing.T) {
	dev := memory.NewMemoryDeviceFrom(make([]byte, MetadataSize))
	_, err := Open(context.Background(), dev, Options{})
	assert.True(t, IsCorrupt(err), "got %v", err)
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, memory.NewMemoryDevice(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	fs, dev := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "keep"))
	require.NoError(t, fs.WriteFile(ctx, "keep", payload(300)))
	require.NoError(t, fs.CreateFile(ctx, "empty"))

	reopened, err := Open(ctx, memory.NewMemoryDeviceFrom(dev.Bytes()), Options{})
	require.NoError(t, err)

	names, err := reopened.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep", "empty"}, names)

	data, err := reopened.ReadFile(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, payload(300), data)

	assert.Equal(t, fs.Statistics(ctx), reopened.Statistics(ctx))
}

func TestCreateThenReadEmpty(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "new"))

	data, err := fs.ReadFile(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Empty(t, data)

	stats := fs.Statistics(ctx)
	assert.Equal(t, 0, stats.BlocksUsed)
	assert.Equal(t, 0, stats.SlotsUsed)
}

func TestCreateFile_Errors(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "dup"))
	err := fs.CreateFile(ctx, "dup")
	assert.True(t, IsAlreadyExists(err))
	assert.Equal(t, "file dup already exists", err.Error())

	for i := 1; i < MaxFiles; i++ {
		require.NoError(t, fs.CreateFile(ctx, fmt.Sprintf("f%d", i)))
	}
	err = fs.CreateFile(ctx, "extra")
	assert.True(t, IsNoSpace(err))
	assert.Equal(t, "no space for more files", err.Error())
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, n := range []int{0, 1, 127, 128, 129, 1000, 1280} {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			fs, _ := newTestFS(t)
			require.NoError(t, fs.CreateFile(ctx, "f"))

			data := payload(n)
			require.NoError(t, fs.WriteFile(ctx, "f", data))

			got, err := fs.ReadFile(ctx, "f")
			require.NoError(t, err)
			assert.Equal(t, data, got)

			want := (n + BlockSize - 1) / BlockSize
			stats := fs.Statistics(ctx)
			assert.Equal(t, want, stats.BlocksUsed)
			assert.Equal(t, want, stats.SlotsUsed)
			assert.Equal(t, int64(n), stats.BytesUsed)

			info, err := fs.Stat(ctx, "f")
			require.NoError(t, err)
			assert.Equal(t, n, info.Size)
			assert.Len(t, info.Blocks, want)
		})
	}
}

func TestWriteFile_FirstFitAllocation(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "a"))
	require.NoError(t, fs.CreateFile(ctx, "b"))
	require.NoError(t, fs.WriteFile(ctx, "a", payload(200)))
	require.NoError(t, fs.WriteFile(ctx, "b", payload(300)))

	info, err := fs.Stat(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, info.Blocks)

	// Rewriting a releases blocks 0 and 1 first, so the new chain reuses them
	require.NoError(t, fs.WriteFile(ctx, "a", payload(10)))
	info, err = fs.Stat(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, info.Blocks)
}

func TestWriteFile_FullReplace(t *testing.T) {
	ctx := context.Background()
	fs, dev := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "f"))
	require.NoError(t, fs.WriteFile(ctx, "f", bytes.Repeat([]byte{'x'}, 200)))
	require.NoError(t, fs.WriteFile(ctx, "f", []byte("short")))

	got, err := fs.ReadFile(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), got)

	// Released blocks are zero-filled, so no stale tail survives
	block0 := dev.Bytes()[blockOffset(0) : blockOffset(0)+BlockSize]
	assert.Equal(t, append([]byte("short"), make([]byte, BlockSize-5)...), block0)
	block1 := dev.Bytes()[blockOffset(1) : blockOffset(1)+BlockSize]
	assert.Equal(t, make([]byte, BlockSize), block1)
}

func TestWriteFile_RewriteUsesOwnedBlocks(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "full"))
	require.NoError(t, fs.WriteFile(ctx, "full", payload(DataSize)))

	// Every block is owned by this file, so a same-size rewrite still fits
	require.NoError(t, fs.WriteFile(ctx, "full", payload(DataSize)))

	err := fs.WriteFile(ctx, "full", payload(DataSize+1))
	assert.True(t, IsNoSpace(err))
	assert.Equal(t, "file too large", err.Error())
}

func TestWriteFile_CapacityFailureLeavesStateIdentical(t *testing.T) {
	ctx := context.Background()
	fs, dev := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "big.txt"))
	require.NoError(t, fs.WriteFile(ctx, "big.txt", payload(1000)))

	stats := fs.Statistics(ctx)
	assert.Equal(t, 8, stats.BlocksUsed)

	require.NoError(t, fs.CreateFile(ctx, "big2.txt"))
	require.NoError(t, fs.WriteFile(ctx, "big2.txt", []byte("old")))

	beforeBytes := dev.Bytes()
	beforeMeta := *fs.meta

	err := fs.WriteFile(ctx, "big2.txt", payload(500))
	require.Error(t, err)
	assert.True(t, IsNoSpace(err))

	assert.Equal(t, beforeBytes, dev.Bytes())
	assert.Equal(t, beforeMeta, *fs.meta)

	got, err := fs.ReadFile(ctx, "big.txt")
	require.NoError(t, err)
	assert.Equal(t, payload(1000), got)

	got, err = fs.ReadFile(ctx, "big2.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}

func TestWriteFile_BigFileScenario(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "big.txt"))
	require.NoError(t, fs.WriteFile(ctx, "big.txt", payload(1000)))

	require.NoError(t, fs.CreateFile(ctx, "big2.txt"))
	err := fs.WriteFile(ctx, "big2.txt", payload(500))
	assert.True(t, IsNoSpace(err))

	data, err := fs.ReadFile(ctx, "big.txt")
	require.NoError(t, err)
	assert.Equal(t, payload(1000), data)

	data, err = fs.ReadFile(ctx, "big2.txt")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestWriteFile_NotFound(t *testing.T) {
	fs, _ := newTestFS(t)
	err := fs.WriteFile(context.Background(), "ghost", []byte("x"))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "file ghost does not exist", err.Error())
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	fs, dev := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "gone"))
	require.NoError(t, fs.WriteFile(ctx, "gone", payload(300)))
	require.NoError(t, fs.DeleteFile(ctx, "gone"))

	_, err := fs.ReadFile(ctx, "gone")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fs.WriteFile(ctx, "gone", []byte("x"))))
	assert.True(t, IsNotFound(fs.DeleteFile(ctx, "gone")))

	stats := fs.Statistics(ctx)
	assert.Equal(t, 0, stats.FilesUsed)
	assert.Equal(t, 0, stats.BlocksUsed)
	assert.Equal(t, 0, stats.SlotsUsed)

	assert.Equal(t, make([]byte, DataSize), dev.Bytes()[MetadataSize:MinDeviceSize])
	assert.Equal(t, EncodeMetadata(NewMetadata()), dev.Bytes()[:MetadataSize])
}

func TestListFiles_SlotOrder(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS(t)

	require.NoError(t, fs.CreateFile(ctx, "a"))
	require.NoError(t, fs.CreateFile(ctx, "b"))
	require.NoError(t, fs.DeleteFile(ctx, "a"))
	require.NoError(t, fs.CreateFile(ctx, "c"))

	names, err := fs.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, names)
}

func TestInvalidNameRejectedEverywhere(t *testing.T) {
	ctx := context.Background()
	fs, dev := newTestFS(t)
	before := dev.Bytes()

	assert.True(t, IsInvalidArgument(fs.CreateFile(ctx, "a b")))
	assert.True(t, IsInvalidArgument(fs.WriteFile(ctx, "a b", []byte("x"))))
	_, err := fs.ReadFile(ctx, "a b")
	assert.True(t, IsInvalidArgument(err))
	assert.True(t, IsInvalidArgument(fs.DeleteFile(ctx, "a b")))
	_, err = fs.Stat(ctx, "a b")
	assert.True(t, IsInvalidArgument(err))

	assert.Equal(t, "invalid filename", fs.CreateFile(ctx, "a b").Error())
	assert.Equal(t, before, dev.Bytes())
}

// faultyDevice fails writes or syncs on demand. failMetadata fails only
// writes to the metadata region.
type faultyDevice struct {
	*memory.MemoryDevice
	failWrites   atomic.Bool
	failMetadata atomic.Bool
	failSync     atomic.Bool
}

var errInjected = errors.New("injected fault")

func (d *faultyDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.failWrites.Load() || (off == 0 && d.failMetadata.Load()) {
		return 0, errInjected
	}
	return d.MemoryDevice.WriteAt(p, off)
}

func (d *faultyDevice) Sync(ctx context.Context) error {
	if d.failSync.Load() {
		return errInjected
	}
	return d.MemoryDevice.Sync(ctx)
}

func TestIOErrorRestoresTables(t *testing.T) {
	ctx := context.Background()
	dev := &faultyDevice{MemoryDevice: memory.NewMemoryDevice()}
	fs, err := Open(ctx, dev, Options{})
	require.NoError(t, err)

	require.NoError(t, fs.CreateFile(ctx, "f"))

	dev.failSync.Store(true)
	err = fs.CreateFile(ctx, "g")
	require.Error(t, err)
	assert.True(t, IsIOError(err))
	assert.ErrorIs(t, err, errInjected)
	dev.failSync.Store(false)

	names, err := fs.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, names)

	dev.failWrites.Store(true)
	err = fs.WriteFile(ctx, "f", []byte("data"))
	assert.True(t, IsIOError(err))
	dev.failWrites.Store(false)

	stats := fs.Statistics(ctx)
	assert.Equal(t, 0, stats.BlocksUsed)
}

func TestIOErrorRestoresDeviceContents(t *testing.T) {
	original := bytes.Repeat([]byte("A"), 200)

	tests := []struct {
		name   string
		inject func(d *faultyDevice) *atomic.Bool
		mutate func(ctx context.Context, fs *FileSystem) error
	}{
		{
			name:   "rewrite with failed sync",
			inject: func(d *faultyDevice) *atomic.Bool { return &d.failSync },
			mutate: func(ctx context.Context, fs *FileSystem) error { return fs.WriteFile(ctx, "f", []byte("new")) },
		},
		{
			name:   "rewrite with failed metadata write",
			inject: func(d *faultyDevice) *atomic.Bool { return &d.failMetadata },
			mutate: func(ctx context.Context, fs *FileSystem) error { return fs.WriteFile(ctx, "f", payload(300)) },
		},
		{
			name:   "delete with failed sync",
			inject: func(d *faultyDevice) *atomic.Bool { return &d.failSync },
			mutate: func(ctx context.Context, fs *FileSystem) error { return fs.DeleteFile(ctx, "f") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dev := &faultyDevice{MemoryDevice: memory.NewMemoryDevice()}
			fs, err := Open(ctx, dev, Options{})
			require.NoError(t, err)

			require.NoError(t, fs.CreateFile(ctx, "f"))
			require.NoError(t, fs.WriteFile(ctx, "f", original))
			before := dev.Bytes()

			fault := tt.inject(dev)
			fault.Store(true)
			err = tt.mutate(ctx, fs)
			require.Error(t, err)
			assert.True(t, IsIOError(err))
			fault.Store(false)

			got, err := fs.ReadFile(ctx, "f")
			require.NoError(t, err)
			assert.Equal(t, original, got)
			assert.Equal(t, before, dev.Bytes(), "device must be back to its state before the failed mutation")

			reopened, err := Open(ctx, memory.NewMemoryDeviceFrom(dev.Bytes()), Options{})
			require.NoError(t, err)
			got, err = reopened.ReadFile(ctx, "f")
			require.NoError(t, err)
			assert.Equal(t, original, got)

			// The volume stays usable
			require.NoError(t, fs.WriteFile(ctx, "f", []byte("after")))
			got, err = fs.ReadFile(ctx, "f")
			require.NoError(t, err)
			assert.Equal(t, []byte("after"), got)
		})
	}
}

// gatedDevice blocks ReadAt calls at one offset until released.
type gatedDevice struct {
	*memory.MemoryDevice
	offset  int64
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDevice) ReadAt(p []byte, off int64) (int, error) {
	if off == d.offset && d.armed.CompareAndSwap(true, false) {
		close(d.entered)
		<-d.release
	}
	return d.MemoryDevice.ReadAt(p, off)
}

func TestConcurrency_ReadersShareWritersExclude(t *testing.T) {
	ctx := context.Background()
	dev := &gatedDevice{
		MemoryDevice: memory.NewMemoryDevice(),
		offset:       blockOffset(0),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	fs, err := Open(ctx, dev, Options{})
	require.NoError(t, err)

	require.NoError(t, fs.CreateFile(ctx, "slow"))
	require.NoError(t, fs.WriteFile(ctx, "slow", []byte("held")))
	require.NoError(t, fs.CreateFile(ctx, "fast"))
	require.NoError(t, fs.WriteFile(ctx, "fast", []byte("free")))

	dev.armed.Store(true)
	slowDone := make(chan []byte)
	go func() {
		data, _ := fs.ReadFile(ctx, "slow")
		slowDone <- data
	}()
	<-dev.entered

	// A second reader proceeds while the first holds the shared lock
	data, err := fs.ReadFile(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, []byte("free"), data)

	writeDone := make(chan error)
	go func() {
		writeDone <- fs.WriteFile(ctx, "fast", []byte("changed"))
	}()

	select {
	case <-writeDone:
		t.Fatal("writer ran while a reader held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(dev.release)
	assert.Equal(t, []byte("held"), <-slowDone)
	require.NoError(t, <-writeDone)

	data, err = fs.ReadFile(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, []byte("changed"), data)
}

func TestConcurrency_ParallelClients(t *testing.T) {
	ctx := context.Background()
	fs, _ := newTestFS(t)

	const workers = MaxFiles
	for i := 0; i < workers; i++ {
		require.NoError(t, fs.CreateFile(ctx, fmt.Sprintf("w%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("w%d", i)
			for j := 0; j < 50; j++ {
				// At most two blocks per file, so all files always fit
				data := bytes.Repeat([]byte{byte('A' + i)}, 1+(i*37+j*11)%(2*BlockSize))
				if !assert.NoError(t, fs.WriteFile(ctx, name, data)) {
					return
				}
				got, err := fs.ReadFile(ctx, name)
				if assert.NoError(t, err) {
					assert.Equal(t, data, got)
				}
				_, _ = fs.ListFiles(ctx)
			}
		}(i)
	}
	wg.Wait()

	stats := fs.Statistics(ctx)
	assert.LessOrEqual(t, stats.BlocksUsed, MaxBlocks)
	assert.Equal(t, stats.BlocksUsed, stats.SlotsUsed)
}

func TestClose(t *testing.T) {
	fs, dev := newTestFS(t)
	require.NoError(t, fs.Close())

	_, err := dev.Size(context.Background())
	assert.ErrorIs(t, err, device.ErrClosed)
}
