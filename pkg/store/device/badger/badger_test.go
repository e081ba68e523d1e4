package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/blockfs/pkg/store/device"
	devicetesting "github.com/marmos91/blockfs/pkg/store/device/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerDevice(t *testing.T) {
	suite := &devicetesting.DeviceTestSuite{
		NewDevice: func(t *testing.T) device.Device {
			dev, err := NewBadgerDevice(context.Background(), BadgerDeviceConfig{
				InMemory: true,
				PageSize: 64, // small pages so the suite crosses page boundaries
			})
			require.NoError(t, err)
			return dev
		},
	}
	suite.Run(t)
}

func TestBadgerDevice_OnDisk(t *testing.T) {
	suite := &devicetesting.DeviceTestSuite{
		NewDevice: func(t *testing.T) device.Device {
			dev, err := NewBadgerDevice(context.Background(), BadgerDeviceConfig{
				DBPath: filepath.Join(t.TempDir(), "volume.db"),
			})
			require.NoError(t, err)
			return dev
		},
	}
	suite.Run(t)
}

func TestBadgerDevice_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "volume.db")

	dev, err := NewBadgerDevice(ctx, BadgerDeviceConfig{DBPath: dbPath, PageSize: 128})
	require.NoError(t, err)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	_, err = dev.WriteAt(data, 100)
	require.NoError(t, err)
	require.NoError(t, dev.Sync(ctx))
	require.NoError(t, dev.Close())

	dev, err = NewBadgerDevice(ctx, BadgerDeviceConfig{DBPath: dbPath, PageSize: 128})
	require.NoError(t, err)
	defer func() { _ = dev.Close() }()

	size, err := dev.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(400), size)

	got := make([]byte, 300)
	_, err = dev.ReadAt(got, 100)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestNewBadgerDevice_RequiresPath(t *testing.T) {
	_, err := NewBadgerDevice(context.Background(), BadgerDeviceConfig{})
	assert.Error(t, err)
}

func TestNewBadgerDevice_RejectsNegativePageSize(t *testing.T) {
	_, err := NewBadgerDevice(context.Background(), BadgerDeviceConfig{InMemory: true, PageSize: -1})
	assert.Error(t, err)
}
