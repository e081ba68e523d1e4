package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/blockfs/pkg/adapter/line"
	"github.com/spf13/viper"
)

// Config represents the complete BlockFS configuration.
//
// This structure captures all configurable aspects of the BlockFS server:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics endpoint)
//   - Volume device selection and configuration (backend-specific)
//   - Protocol adapter configurations
//
// Configuration sources (in order of precedence):
//  1. Environment variables (BLOCKFS_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each device backend defines its own configuration type. The Store section
// contains one map per backend (e.g., store.file, store.s3) and only the map
// matching store.type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Store selects and configures the device holding the volume
	Store StoreConfig `mapstructure:"store"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig controls the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns on metric collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled"`

	// Port is the HTTP port for /metrics
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// StoreConfig specifies the device holding the volume.
//
// The Type field determines which backend is used. Only the corresponding
// backend-specific map is decoded.
type StoreConfig struct {
	// Type specifies which device backend to use
	// Valid values: file, memory, badger, s3
	Type string `mapstructure:"type" validate:"required,oneof=file memory badger s3"`

	// TotalSize is the length a new volume is formatted to, in bytes.
	// 0 formats the minimum size (metadata region plus all data blocks).
	TotalSize int64 `mapstructure:"total_size" validate:"min=0"`

	// File contains file backend configuration (path, sync)
	File map[string]any `mapstructure:"file"`

	// Memory contains memory backend configuration (no options)
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB backend configuration (db_path, page_size)
	Badger map[string]any `mapstructure:"badger"`

	// S3 contains S3 backend configuration (bucket, key, region, endpoint, ...)
	S3 map[string]any `mapstructure:"s3"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// Line contains the line protocol configuration.
	// Uses the line.LineConfig type directly to avoid duplication.
	Line line.LineConfig `mapstructure:"line"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (BLOCKFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: BLOCKFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("BLOCKFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/blockfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file: defaults only
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "blockfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "blockfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
