package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/blockfs/pkg/store/device"
	devicetesting "github.com/marmos91/blockfs/pkg/store/device/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDevice(t *testing.T) {
	suite := &devicetesting.DeviceTestSuite{
		NewDevice: func(t *testing.T) device.Device {
			dev, err := NewFileDevice(context.Background(), FileDeviceConfig{
				Path:       filepath.Join(t.TempDir(), "volume.img"),
				SyncWrites: true,
			})
			require.NoError(t, err)
			return dev
		},
	}
	suite.Run(t)
}

func TestNewFileDevice_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "volume.img")

	dev, err := NewFileDevice(context.Background(), FileDeviceConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = dev.Close() }()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, path, dev.Path())
}

func TestNewFileDevice_RequiresPath(t *testing.T) {
	_, err := NewFileDevice(context.Background(), FileDeviceConfig{})
	assert.Error(t, err)
}

func TestNewFileDevice_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileDevice(ctx, FileDeviceConfig{Path: filepath.Join(t.TempDir(), "v.img")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileDevice_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "volume.img")

	dev, err := NewFileDevice(ctx, FileDeviceConfig{Path: path})
	require.NoError(t, err)
	_, err = dev.WriteAt([]byte("persisted"), 42)
	require.NoError(t, err)
	require.NoError(t, dev.Sync(ctx))
	require.NoError(t, dev.Close())

	dev, err = NewFileDevice(ctx, FileDeviceConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = dev.Close() }()

	got := make([]byte, 9)
	_, err = dev.ReadAt(got, 42)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}
