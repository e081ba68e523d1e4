package config

import (
	"strings"
	"time"

	"github.com/marmos91/blockfs/pkg/adapter/line"
)

// DefaultVolumePath is where the file backend stores the volume by default.
const DefaultVolumePath = "/tmp/blockfs/volume.img"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend maps get defaults for every backend so a generated sample
//     config documents all of them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStoreDefaults(&cfg.Store)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyStoreDefaults sets device defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "file"
	}

	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.File["path"]; !ok {
		cfg.File["path"] = DefaultVolumePath
	}
	if _, ok := cfg.File["sync"]; !ok {
		cfg.File["sync"] = true
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/blockfs/badger"
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the line adapter when it was not configured at all (port 0),
	// so a config-less start serves clients. An explicit enabled: false
	// with a port set is preserved.
	if !cfg.Line.Enabled && cfg.Line.Port == 0 {
		cfg.Line.Enabled = true
	}

	applyLineDefaults(&cfg.Line)
}

// applyLineDefaults sets line adapter defaults.
func applyLineDefaults(cfg *line.LineConfig) {
	if cfg.Port == 0 {
		cfg.Port = line.DefaultPort
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = line.DefaultMaxConnections
	}
	if cfg.MaxLineBytes == 0 {
		cfg.MaxLineBytes = line.DefaultMaxLineBytes
	}
	if cfg.Timeouts.Read == 0 {
		cfg.Timeouts.Read = 30 * time.Second
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = 30 * time.Second
	}
	if cfg.Timeouts.Idle == 0 {
		cfg.Timeouts.Idle = 5 * time.Minute
	}
	if cfg.Timeouts.Shutdown == 0 {
		cfg.Timeouts.Shutdown = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			Line: line.LineConfig{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
