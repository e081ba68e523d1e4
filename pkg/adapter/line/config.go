package line

import (
	"fmt"
	"time"
)

// DefaultPort is the port pkg/config fills in when none is configured.
const DefaultPort = 6000

// DefaultMaxConnections is the default number of concurrent sessions.
const DefaultMaxConnections = 100

// DefaultMaxLineBytes bounds a single request line (64 KiB).
const DefaultMaxLineBytes = 64 * 1024

// LineConfig holds configuration parameters for the line protocol server.
//
// Default values (applied by New if zero):
//   - MaxConnections: 100
//   - MaxLineBytes: 64 KiB
//   - Timeouts.Read: 30s
//   - Timeouts.Write: 30s
//   - Timeouts.Idle: 5m
//   - Timeouts.Shutdown: 30s
type LineConfig struct {
	// Enabled controls whether the line adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port to listen on. 0 binds an ephemeral port, which
	// Port() reports once Serve is listening. pkg/config applies DefaultPort.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections bounds concurrent client sessions. When reached, the
	// accept loop waits until a session ends.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxLineBytes is the longest accepted request line, newline included.
	// A longer line closes the connection.
	MaxLineBytes int `mapstructure:"max_line_bytes" validate:"min=0"`

	// Timeouts bounds each phase of a session.
	Timeouts LineTimeoutsConfig `mapstructure:"timeouts"`

	// MetricsLogInterval is the interval for logging connection counts.
	// 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`

	// RateLimit throttles commands per connection.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// LineTimeoutsConfig groups the per-connection timeouts.
type LineTimeoutsConfig struct {
	// Read bounds reading the rest of a line once its first byte arrived.
	Read time.Duration `mapstructure:"read" validate:"min=0"`

	// Write bounds sending one reply.
	Write time.Duration `mapstructure:"write" validate:"min=0"`

	// Idle bounds the wait for the next command.
	Idle time.Duration `mapstructure:"idle" validate:"min=0"`

	// Shutdown bounds the graceful drain before sessions are force-closed.
	Shutdown time.Duration `mapstructure:"shutdown" validate:"min=0"`
}

// RateLimitConfig configures the per-connection token bucket.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *LineConfig) applyDefaults() {
	// Note: Enabled defaults are handled in pkg/config/defaults.go
	// to allow explicit false values from configuration files.

	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 30 * time.Second
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 5 * time.Minute
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = 30 * time.Second
	}
	if c.RateLimit.Enabled && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerSecond
	}
}

// validate checks the configuration after defaults are applied.
func (c *LineConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.MaxLineBytes < 16 {
		return fmt.Errorf("invalid MaxLineBytes %d: must be >= 16", c.MaxLineBytes)
	}
	if c.Timeouts.Read < 0 || c.Timeouts.Write < 0 || c.Timeouts.Idle < 0 {
		return fmt.Errorf("invalid timeouts %+v: must be >= 0", c.Timeouts)
	}
	if c.Timeouts.Shutdown <= 0 {
		return fmt.Errorf("invalid shutdown timeout %v: must be > 0", c.Timeouts.Shutdown)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond == 0 {
		return fmt.Errorf("rate limit enabled with requests_per_second = 0")
	}
	return nil
}
