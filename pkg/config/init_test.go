package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// useTempConfigDir points the default config location at a temp directory.
func useTempConfigDir(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func TestInitConfig_Success(t *testing.T) {
	tmpDir := useTempConfigDir(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	if want := filepath.Join(tmpDir, ".config", "blockfs", "config.yaml"); configPath != want {
		t.Errorf("Expected config at %q, got %q", want, configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# BlockFS Configuration File",
		"logging:",
		"server:",
		"store:",
		"adapters:",
	}

	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	// Verify it's valid YAML
	var parsed map[string]any
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		t.Errorf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	useTempConfigDir(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	useTempConfigDir(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("modified"), 0644); err != nil {
		t.Fatalf("Failed to modify config: %v", err)
	}

	newPath, err := InitConfig(true)
	if err != nil {
		t.Fatalf("Force InitConfig failed: %v", err)
	}
	if newPath != configPath {
		t.Errorf("Expected same path %q, got %q", configPath, newPath)
	}

	content, err := os.ReadFile(newPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.Contains(string(content), "# BlockFS Configuration File") {
		t.Error("Config file was not overwritten")
	}
}

func TestInitConfigToPath_CreatesDirectories(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "dir", "blockfs.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}

	if err := InitConfigToPath(configPath, false); err == nil {
		t.Error("Expected error when config already exists")
	}
	if err := InitConfigToPath(configPath, true); err != nil {
		t.Errorf("Force InitConfigToPath failed: %v", err)
	}
}

func TestGenerateYAMLWithComments_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	out, err := generateYAMLWithComments(cfg)
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	if !strings.Contains(out, "# ") {
		t.Error("Generated YAML should contain comments")
	}

	for _, want := range []string{"INFO", "6000", "30s", "5m0s", DefaultVolumePath, "requests_per_second"} {
		if !strings.Contains(out, want) {
			t.Errorf("Generated YAML missing %q", want)
		}
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	useTempConfigDir(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	if err := Validate(cfg); err != nil {
		t.Fatalf("Generated config failed validation: %v", err)
	}
}

func TestGeneratedConfigValuesAreCorrect(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("Failed to generate config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	want := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected INFO log level in generated config, got %q", cfg.Logging.Level)
	}
	if cfg.Store.Type != want.Store.Type {
		t.Errorf("Expected store type %q, got %q", want.Store.Type, cfg.Store.Type)
	}
	if cfg.Adapters.Line.Port != want.Adapters.Line.Port {
		t.Errorf("Expected port %d in generated config, got %d", want.Adapters.Line.Port, cfg.Adapters.Line.Port)
	}
	if cfg.Adapters.Line.Timeouts != want.Adapters.Line.Timeouts {
		t.Errorf("Expected timeouts %+v, got %+v", want.Adapters.Line.Timeouts, cfg.Adapters.Line.Timeouts)
	}
	if cfg.Server.ShutdownTimeout != want.Server.ShutdownTimeout {
		t.Errorf("Expected shutdown timeout %v, got %v", want.Server.ShutdownTimeout, cfg.Server.ShutdownTimeout)
	}
}
