package testing

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/marmos91/blockfs/pkg/store/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DeviceTestSuite is a conformance suite for device.Device implementations.
// It tests the interface contract, not implementation details, so every
// backend (file, memory, badger, s3) runs the same checks.
//
// Usage:
//
//	func TestMyDevice(t *testing.T) {
//	    suite := &devicetesting.DeviceTestSuite{
//	        NewDevice: func(t *testing.T) device.Device {
//	            return mydevice.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type DeviceTestSuite struct {
	// NewDevice creates a fresh, empty device for each test. The suite closes
	// it; factories may register extra cleanup with t.Cleanup.
	NewDevice func(t *testing.T) device.Device
}

// Run executes all tests in the suite.
func (suite *DeviceTestSuite) Run(t *testing.T) {
	t.Run("EmptyDevice", suite.testEmptyDevice)
	t.Run("WriteThenRead", suite.testWriteThenRead)
	t.Run("WriteGrowsDevice", suite.testWriteGrowsDevice)
	t.Run("ReadPastEnd", suite.testReadPastEnd)
	t.Run("TruncateGrowsWithZeros", suite.testTruncateGrowsWithZeros)
	t.Run("TruncateShrinkThenGrow", suite.testTruncateShrinkThenGrow)
	t.Run("OverwriteInPlace", suite.testOverwriteInPlace)
	t.Run("Sync", suite.testSync)
	t.Run("NegativeOffset", suite.testNegativeOffset)
	t.Run("Closed", suite.testClosed)
}

func testContext() context.Context {
	return context.Background()
}

func (suite *DeviceTestSuite) newDevice(t *testing.T) device.Device {
	t.Helper()
	dev := suite.NewDevice(t)
	require.NotNil(t, dev)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func mustSize(t *testing.T, dev device.Device) int64 {
	t.Helper()
	size, err := dev.Size(testContext())
	require.NoError(t, err)
	return size
}

func (suite *DeviceTestSuite) testEmptyDevice(t *testing.T) {
	dev := suite.newDevice(t)
	assert.Equal(t, int64(0), mustSize(t, dev))

	buf := make([]byte, 4)
	n, err := dev.ReadAt(buf, 0)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func (suite *DeviceTestSuite) testWriteThenRead(t *testing.T) {
	dev := suite.newDevice(t)
	require.NoError(t, dev.Truncate(testContext(), 1024))

	data := []byte("hello, block store")
	n, err := dev.WriteAt(data, 100)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	got := make([]byte, len(data))
	n, err = dev.ReadAt(got, 100)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)

	assert.Equal(t, int64(1024), mustSize(t, dev))
}

func (suite *DeviceTestSuite) testWriteGrowsDevice(t *testing.T) {
	dev := suite.newDevice(t)

	_, err := dev.WriteAt([]byte{1, 2, 3}, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(13), mustSize(t, dev))

	got := make([]byte, 13)
	_, err = dev.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, append(make([]byte, 10), 1, 2, 3), got)
}

func (suite *DeviceTestSuite) testReadPastEnd(t *testing.T) {
	dev := suite.newDevice(t)
	_, err := dev.WriteAt([]byte("abcdef"), 0)
	require.NoError(t, err)

	got := make([]byte, 10)
	n, err := dev.ReadAt(got, 2)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("cdef"), got[:n])
}

func (suite *DeviceTestSuite) testTruncateGrowsWithZeros(t *testing.T) {
	dev := suite.newDevice(t)
	require.NoError(t, dev.Truncate(testContext(), 5000))
	assert.Equal(t, int64(5000), mustSize(t, dev))

	got := make([]byte, 5000)
	_, err := dev.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 5000), got)
}

func (suite *DeviceTestSuite) testTruncateShrinkThenGrow(t *testing.T) {
	dev := suite.newDevice(t)

	data := make([]byte, 300)
	for i := range data {
		data[i] = 0xAB
	}
	_, err := dev.WriteAt(data, 0)
	require.NoError(t, err)

	require.NoError(t, dev.Truncate(testContext(), 100))
	assert.Equal(t, int64(100), mustSize(t, dev))

	require.NoError(t, dev.Truncate(testContext(), 300))
	got := make([]byte, 300)
	_, err = dev.ReadAt(got, 0)
	require.NoError(t, err)

	assert.Equal(t, data[:100], got[:100])
	assert.Equal(t, make([]byte, 200), got[100:], "regrown range must read back as zeros")
}

func (suite *DeviceTestSuite) testOverwriteInPlace(t *testing.T) {
	dev := suite.newDevice(t)
	_, err := dev.WriteAt([]byte("aaaaaaaaaa"), 0)
	require.NoError(t, err)
	_, err = dev.WriteAt([]byte("bbb"), 4)
	require.NoError(t, err)

	got := make([]byte, 10)
	_, err = dev.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaabbbaaa"), got)
	assert.Equal(t, int64(10), mustSize(t, dev))
}

func (suite *DeviceTestSuite) testSync(t *testing.T) {
	dev := suite.newDevice(t)
	_, err := dev.WriteAt([]byte("durable"), 0)
	require.NoError(t, err)
	require.NoError(t, dev.Sync(testContext()))

	// Sync with nothing pending must also succeed
	require.NoError(t, dev.Sync(testContext()))
}

func (suite *DeviceTestSuite) testNegativeOffset(t *testing.T) {
	dev := suite.newDevice(t)

	_, err := dev.WriteAt([]byte("x"), -1)
	assert.Error(t, err)

	_, err = dev.ReadAt(make([]byte, 1), -1)
	assert.Error(t, err)
}

func (suite *DeviceTestSuite) testClosed(t *testing.T) {
	dev := suite.NewDevice(t)
	require.NoError(t, dev.Close())

	_, err := dev.WriteAt([]byte("x"), 0)
	assert.True(t, errors.Is(err, device.ErrClosed), "WriteAt on closed device: %v", err)

	_, err = dev.ReadAt(make([]byte, 1), 0)
	assert.True(t, errors.Is(err, device.ErrClosed), "ReadAt on closed device: %v", err)

	_, err = dev.Size(testContext())
	assert.True(t, errors.Is(err, device.ErrClosed), "Size on closed device: %v", err)

	// Close is idempotent
	assert.NoError(t, dev.Close())
}
