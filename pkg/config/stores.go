package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/blockfs/internal/logger"
	"github.com/marmos91/blockfs/pkg/fs"
	"github.com/marmos91/blockfs/pkg/metrics"
	"github.com/marmos91/blockfs/pkg/store/device"
	"github.com/marmos91/blockfs/pkg/store/device/badger"
	"github.com/marmos91/blockfs/pkg/store/device/file"
	"github.com/marmos91/blockfs/pkg/store/device/memory"
	"github.com/marmos91/blockfs/pkg/store/device/s3"
	"github.com/mitchellh/mapstructure"
)

// defaultS3MaxRetries is the retry budget for transient S3 errors.
const defaultS3MaxRetries = 10

// fileOptions is the store.file section.
type fileOptions struct {
	Path string `mapstructure:"path"`
	Sync bool   `mapstructure:"sync"`
}

// badgerOptions is the store.badger section.
type badgerOptions struct {
	DBPath   string `mapstructure:"db_path"`
	PageSize int64  `mapstructure:"page_size"`
	InMemory bool   `mapstructure:"in_memory"`
}

// s3Options is the store.s3 section.
type s3Options struct {
	Bucket          string `mapstructure:"bucket"`
	Key             string `mapstructure:"key"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// decodeOptions decodes a backend map into out. Strings from environment
// variables are converted to the target field types.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// OpenVolume creates the configured device and opens the volume on it,
// formatting a new volume when the device is empty.
//
// The returned FileSystem owns the device; closing it closes the device.
func OpenVolume(ctx context.Context, cfg *StoreConfig) (*fs.FileSystem, error) {
	dev, err := CreateDevice(ctx, cfg)
	if err != nil {
		return nil, err
	}

	volume, err := fs.Open(ctx, dev, fs.Options{TotalSize: cfg.TotalSize})
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("failed to open volume on %s device: %w", cfg.Type, err)
	}

	return volume, nil
}

// CreateDevice creates a device based on configuration.
//
// This factory function uses the Type field to determine which backend to
// create, then decodes the type-specific map and passes it to the backend's
// constructor.
//
// Supported types:
//   - "file": Uses pkg/store/device/file (single local file)
//   - "memory": Uses pkg/store/device/memory (volatile, for testing)
//   - "badger": Uses pkg/store/device/badger (BadgerDB pages)
//   - "s3": Uses pkg/store/device/s3 (one S3 object)
func CreateDevice(ctx context.Context, cfg *StoreConfig) (device.Device, error) {
	switch cfg.Type {
	case "file":
		return createFileDevice(ctx, cfg.File)
	case "memory":
		return memory.NewMemoryDevice(), nil
	case "badger":
		return createBadgerDevice(ctx, cfg.Badger)
	case "s3":
		return createS3Device(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown store type: %q (supported: file, memory, badger, s3)", cfg.Type)
	}
}

// createFileDevice creates a device backed by a local file.
func createFileDevice(ctx context.Context, options map[string]any) (device.Device, error) {
	var opts fileOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode file store config: %w", err)
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}

	dev, err := file.NewFileDevice(ctx, file.FileDeviceConfig{
		Path:       opts.Path,
		SyncWrites: opts.Sync,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("File store initialized: path=%s, sync=%v", opts.Path, opts.Sync)
	return dev, nil
}

// createBadgerDevice creates a BadgerDB-backed device.
func createBadgerDevice(ctx context.Context, options map[string]any) (device.Device, error) {
	var opts badgerOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger store config: %w", err)
	}

	dev, err := badger.NewBadgerDevice(ctx, badger.BadgerDeviceConfig{
		DBPath:   opts.DBPath,
		PageSize: opts.PageSize,
		InMemory: opts.InMemory,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Badger store initialized: db_path=%s, in_memory=%v", opts.DBPath, opts.InMemory)
	return dev, nil
}

// createS3Device creates a device persisted as a single S3 object.
func createS3Device(ctx context.Context, options map[string]any) (device.Device, error) {
	var opts s3Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 store config: %w", err)
	}

	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 store: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 store: region is required")
	}
	if opts.Key == "" {
		opts.Key = "blockfs/volume.img"
	}

	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	// NewS3Metrics returns nil while the registry is uninitialized, which
	// the device treats as no-op.
	dev, err := s3.NewS3Device(ctx, s3.S3DeviceConfig{
		Client:  client,
		Bucket:  opts.Bucket,
		Key:     opts.Key,
		Metrics: metrics.NewS3Metrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 store: %w", err)
	}

	logger.Info("S3 store initialized: bucket=%s, region=%s, key=%s", opts.Bucket, opts.Region, opts.Key)
	return dev, nil
}

// newS3Client builds an S3 client from the store.s3 options.
//
// Static credentials are used when both keys are set; otherwise the default
// AWS credential chain applies. A custom endpoint (MinIO, Localstack)
// implies path-style addressing.
func newS3Client(ctx context.Context, opts s3Options) (*awss3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultS3MaxRetries
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}
