package metrics

import (
	"time"

	"github.com/marmos91/blockfs/pkg/fs"
)

// ServerMetrics provides observability for the line protocol adapter and the
// volume it serves.
//
// This interface is optional - if not provided to the adapter, a no-op
// implementation is used with zero overhead.
type ServerMetrics interface {
	// RecordCommand records a completed command.
	//
	// Parameters:
	//   - verb: Command verb (e.g., "CREATE", "READ"), or "INVALID"
	//   - duration: Time taken to execute the command
	//   - errorCode: Empty on success, otherwise the failure category
	//     (e.g., "not_found", "no_space", "invalid_command")
	RecordCommand(verb string, duration time.Duration, errorCode string)

	// RecordCommandStart increments the in-flight command gauge.
	RecordCommandStart(verb string)

	// RecordCommandEnd decrements the in-flight command gauge.
	RecordCommandEnd(verb string)

	// RecordBytes records file payload bytes moved by READ or WRITE.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Payload size
	RecordBytes(direction string, bytes int)

	// RecordRateLimited counts a command rejected by the per-connection limit.
	RecordRateLimited()

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed because the
	// shutdown timeout expired.
	RecordConnectionForceClosed()

	// SetVolumeUsage publishes the current inode, block and byte usage.
	SetVolumeUsage(stats fs.Statistics)
}

// NewNoopServerMetrics returns a ServerMetrics that discards everything.
func NewNoopServerMetrics() ServerMetrics {
	return noopServerMetrics{}
}

// noopServerMetrics is a no-op implementation of ServerMetrics with zero overhead.
type noopServerMetrics struct{}

func (noopServerMetrics) RecordCommand(verb string, duration time.Duration, errorCode string) {}
func (noopServerMetrics) RecordCommandStart(verb string)                                       {}
func (noopServerMetrics) RecordCommandEnd(verb string)                                         {}
func (noopServerMetrics) RecordBytes(direction string, bytes int)                              {}
func (noopServerMetrics) RecordRateLimited()                                                   {}
func (noopServerMetrics) SetActiveConnections(count int32)                                     {}
func (noopServerMetrics) RecordConnectionAccepted()                                            {}
func (noopServerMetrics) RecordConnectionClosed()                                              {}
func (noopServerMetrics) RecordConnectionForceClosed()                                         {}
func (noopServerMetrics) SetVolumeUsage(stats fs.Statistics)                                   {}
