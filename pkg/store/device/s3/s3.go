// Package s3 implements a BlockFS device persisted as a single S3 object.
//
// Object storage has no random-access writes, so the device keeps the whole
// volume image in memory and uploads it with PutObject on Sync. The image is
// loaded with GetObject when the device is opened; a missing object is an
// empty (length 0) volume, which makes the engine format it on first open.
//
// S3 Characteristics:
//   - Every Sync after a mutation is one PutObject of the full image
//   - Reads never hit S3 after open
//   - Works with any S3-compatible endpoint (MinIO, Localstack, Cubbit DS3)
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/blockfs/internal/logger"
	"github.com/marmos91/blockfs/pkg/store/device"
)

// Client is the subset of the S3 API used by the device.
// *s3.Client satisfies it.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Device implements device.Device with an in-memory image mirrored to S3.
//
// Thread Safety:
// The image is safe for concurrent use. syncMu serializes uploads so that two
// concurrent Sync calls cannot upload out of order.
type S3Device struct {
	client  Client
	bucket  string
	key     string
	metrics S3Metrics

	img    *device.Image
	dirty  atomic.Bool
	closed atomic.Bool
	syncMu sync.Mutex
}

// S3DeviceConfig contains configuration for the S3 device.
type S3DeviceConfig struct {
	// Client is the configured S3 client
	Client Client

	// Bucket is the S3 bucket name. The bucket must already exist.
	Bucket string

	// Key is the object key holding the volume image
	// Example: "blockfs/volume.img"
	Key string

	// Metrics observes S3 calls. Nil disables collection.
	Metrics S3Metrics
}

// NewS3Device loads the volume image from S3.
//
// Returns an error if the object exists but cannot be downloaded. A missing
// object yields an empty device.
func NewS3Device(ctx context.Context, config S3DeviceConfig) (*S3Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if config.Client == nil {
		return nil, fmt.Errorf("s3 device: client is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 device: bucket is required")
	}
	if config.Key == "" {
		return nil, fmt.Errorf("s3 device: key is required")
	}

	d := &S3Device{
		client:  config.Client,
		bucket:  config.Bucket,
		key:     config.Key,
		metrics: config.Metrics,
	}
	if d.metrics == nil {
		d.metrics = noopMetrics{}
	}

	data, err := d.download(ctx)
	if err != nil {
		return nil, err
	}
	d.img = device.NewImage(data)

	logger.Debug("S3 device loaded s3://%s/%s (%d bytes)", d.bucket, d.key, len(data))

	return d, nil
}

// download fetches the image object. A NoSuchKey error means a new volume.
func (d *S3Device) download(ctx context.Context) ([]byte, error) {
	start := time.Now()
	data, err := d.getObject(ctx)
	d.metrics.ObserveOperation("GetObject", time.Since(start), err)
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil
		}
		return nil, err
	}

	d.metrics.RecordBytes("GetObject", int64(len(data)))
	return data, nil
}

func (d *S3Device) getObject(ctx context.Context) ([]byte, error) {
	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get volume object from S3: %w", err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read volume object from S3: %w", err)
	}
	return data, nil
}

func (d *S3Device) ReadAt(p []byte, off int64) (int, error) {
	if d.closed.Load() {
		return 0, device.ErrClosed
	}
	return d.img.ReadAt(p, off)
}

func (d *S3Device) WriteAt(p []byte, off int64) (int, error) {
	if d.closed.Load() {
		return 0, device.ErrClosed
	}
	n, err := d.img.WriteAt(p, off)
	if n > 0 {
		d.dirty.Store(true)
	}
	return n, err
}

func (d *S3Device) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.closed.Load() {
		return 0, device.ErrClosed
	}
	return d.img.Len(), nil
}

func (d *S3Device) Truncate(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed.Load() {
		return device.ErrClosed
	}
	if err := d.img.Truncate(size); err != nil {
		return err
	}
	d.dirty.Store(true)
	return nil
}

// Sync uploads the image if it changed since the last successful upload.
func (d *S3Device) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed.Load() {
		return device.ErrClosed
	}
	return d.flush(ctx)
}

func (d *S3Device) flush(ctx context.Context) error {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()

	if !d.dirty.Swap(false) {
		return nil
	}

	data := d.img.Snapshot()
	start := time.Now()
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
		Body:   bytes.NewReader(data),
	})
	d.metrics.ObserveOperation("PutObject", time.Since(start), err)
	if err != nil {
		d.dirty.Store(true)
		return fmt.Errorf("failed to write volume object to S3: %w", err)
	}

	d.metrics.RecordBytes("PutObject", int64(len(data)))
	logger.Debug("S3 device uploaded s3://%s/%s (%d bytes)", d.bucket, d.key, len(data))
	return nil
}

// Close uploads pending changes and marks the device closed.
func (d *S3Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.flush(context.Background())
}
