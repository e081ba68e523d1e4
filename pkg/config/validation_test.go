package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidStoreType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Type = "postgres"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown store type")
	}
	if !strings.Contains(err.Error(), "Store.Type") {
		t.Errorf("Expected error to name Store.Type, got: %v", err)
	}
}

func TestValidate_TotalSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		wantErr bool
	}{
		{"zero means minimum", 0, false},
		{"exactly minimum", 1445, false},
		{"larger", 1 << 20, false},
		{"below minimum", 1000, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Store.TotalSize = tt.size

			err := Validate(cfg)
			if tt.wantErr && err == nil {
				t.Fatalf("Expected validation error for total_size %d", tt.size)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Unexpected validation error for total_size %d: %v", tt.size, err)
			}
		})
	}
}

func TestValidate_InvalidLinePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Line.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NegativePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Line.Port = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative port")
	}
}

func TestValidate_NegativeMaxConnections(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Line.MaxConnections = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative max_connections")
	}
}

func TestValidate_MaxLineBytesTooSmall(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Line.MaxLineBytes = 8

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for tiny max_line_bytes")
	}
	if !strings.Contains(err.Error(), "max_line_bytes") {
		t.Errorf("Expected error about max_line_bytes, got: %v", err)
	}
}

func TestValidate_InvalidShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ShutdownTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for zero shutdown timeout")
	}
	if !strings.Contains(err.Error(), "required") && !strings.Contains(err.Error(), "gt") {
		t.Errorf("Expected 'required' or 'gt' validation error, got: %v", err)
	}
}

func TestValidate_NegativeTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Line.Timeouts.Read = -1 * time.Second

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative timeout")
	}
}

func TestValidate_NoAdaptersEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Line.Enabled = false

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when no adapters are enabled")
	}
	if !strings.Contains(err.Error(), "at least one adapter") {
		t.Errorf("Expected 'at least one adapter' error, got: %v", err)
	}
}

func TestValidate_RateLimitWithoutRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Line.RateLimit.Enabled = true
	cfg.Adapters.Line.RateLimit.RequestsPerSecond = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for rate limit without a rate")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("Expected error about requests_per_second, got: %v", err)
	}
}

func TestValidate_MetricsPortConflict(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Metrics.Enabled = true
	cfg.Server.Metrics.Port = cfg.Adapters.Line.Port

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for metrics port equal to line port")
	}

	// Disabled metrics never conflict
	cfg.Server.Metrics.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("Unexpected error with metrics disabled: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}

		// Validation must not normalize
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}
