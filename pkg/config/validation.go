package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/blockfs/pkg/fs"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.Line.Enabled {
		return errors.New("adapters: at least one adapter must be enabled")
	}

	lineCfg := cfg.Adapters.Line
	if lineCfg.MaxLineBytes < 16 {
		return fmt.Errorf("adapters.line.max_line_bytes: must be >= 16 (got %d)", lineCfg.MaxLineBytes)
	}
	if lineCfg.RateLimit.Enabled && lineCfg.RateLimit.RequestsPerSecond == 0 {
		return errors.New("adapters.line.rate_limit: requests_per_second must be > 0 when enabled")
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == lineCfg.Port {
		return fmt.Errorf("server.metrics.port: %d conflicts with adapters.line.port", lineCfg.Port)
	}

	if cfg.Store.TotalSize != 0 && cfg.Store.TotalSize < fs.MinDeviceSize {
		return fmt.Errorf("store.total_size: must be 0 or >= %d bytes (got %d)",
			fs.MinDeviceSize, cfg.Store.TotalSize)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
