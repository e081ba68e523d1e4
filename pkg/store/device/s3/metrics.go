package s3

import "time"

// S3Metrics observes the S3 calls made by the device.
//
// This interface is optional - a nil Metrics in S3DeviceConfig selects a
// no-op implementation.
type S3Metrics interface {
	// ObserveOperation records one S3 call.
	//
	// Parameters:
	//   - operation: "GetObject" or "PutObject"
	//   - duration: Wall time of the call, retries included
	//   - err: Error returned by the SDK, nil on success
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records image bytes downloaded or uploaded.
	RecordBytes(operation string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(operation string, duration time.Duration, err error) {}
func (noopMetrics) RecordBytes(operation string, bytes int64)                             {}
