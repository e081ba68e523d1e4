package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `BlockFS Configuration File

Every value below is the built-in default. Any key can be overridden with an
environment variable: BLOCKFS_ + the upper-cased key path joined by "_",
e.g. BLOCKFS_LOGGING_LEVEL=DEBUG.`

// InitConfig writes a sample configuration file to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: If the file already exists (and force is false) or cannot be written
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// field is one commented key of a generated YAML mapping.
type field struct {
	key     string
	comment string
	value   *yaml.Node
}

// comment prefixes every line of text with "# ".
func comment(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight("# "+l, " ")
	}
	return strings.Join(lines, "\n")
}

func mapping(fields ...field) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range fields {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: f.key, HeadComment: comment(f.comment)}
		node.Content = append(node.Content, key, f.value)
	}
	return node
}

// value encodes v as a YAML node. Durations are written in their string form
// ("30s") so they read back through viper's duration hook.
func value(v any) *yaml.Node {
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	node := &yaml.Node{}
	if err := node.Encode(v); err != nil {
		// Only plain scalars and maps of scalars are encoded here
		panic(fmt.Sprintf("config: cannot encode %T: %v", v, err))
	}
	return node
}

// generateYAMLWithComments renders cfg as a commented YAML document.
func generateYAMLWithComments(cfg *Config) (string, error) {
	lineCfg := cfg.Adapters.Line

	root := mapping(
		field{"logging", "Logging", mapping(
			field{"level", "DEBUG, INFO, WARN or ERROR", value(cfg.Logging.Level)},
			field{"format", "text or json", value(cfg.Logging.Format)},
			field{"output", "stdout, stderr or a file path", value(cfg.Logging.Output)},
		)},
		field{"server", "Server-wide settings", mapping(
			field{"shutdown_timeout", "Maximum time to wait for graceful shutdown", value(cfg.Server.ShutdownTimeout)},
			field{"metrics", "Prometheus /metrics endpoint", mapping(
				field{"enabled", "", value(cfg.Server.Metrics.Enabled)},
				field{"port", "", value(cfg.Server.Metrics.Port)},
			)},
		)},
		field{"store", "Device holding the volume: file, memory, badger or s3.\nOnly the section matching type is used.", mapping(
			field{"type", "", value(cfg.Store.Type)},
			field{"total_size", "Size a new volume is formatted to in bytes (0 = minimum)", value(cfg.Store.TotalSize)},
			field{"file", "Single local file; sync enables fsync after every mutation", value(cfg.Store.File)},
			field{"memory", "Volatile, contents are lost on exit", value(cfg.Store.Memory)},
			field{"badger", "BadgerDB directory; page_size must not change once created", value(cfg.Store.Badger)},
			field{"s3", "One S3 object, uploaded after every mutation.\nKeys: bucket, key, region, endpoint, access_key_id,\nsecret_access_key, force_path_style, max_retries", value(map[string]any{
				"bucket": "",
				"key":    "blockfs/volume.img",
				"region": "us-east-1",
			})},
		)},
		field{"adapters", "Protocol adapters", mapping(
			field{"line", "Line protocol server (CREATE, WRITE, READ, DELETE, LIST, QUIT)", mapping(
				field{"enabled", "", value(lineCfg.Enabled)},
				field{"port", "", value(lineCfg.Port)},
				field{"max_connections", "Concurrent sessions; further clients wait to be accepted", value(lineCfg.MaxConnections)},
				field{"max_line_bytes", "Longest request line; longer lines close the connection", value(lineCfg.MaxLineBytes)},
				field{"timeouts", "", mapping(
					field{"read", "Reading the rest of a started line", value(lineCfg.Timeouts.Read)},
					field{"write", "Sending one reply", value(lineCfg.Timeouts.Write)},
					field{"idle", "Waiting for the next command", value(lineCfg.Timeouts.Idle)},
					field{"shutdown", "Draining sessions before they are force-closed", value(lineCfg.Timeouts.Shutdown)},
				)},
				field{"metrics_log_interval", "Periodic connection/usage log line (0 disables)", value(lineCfg.MetricsLogInterval)},
				field{"rate_limit", "Per-connection command limit", mapping(
					field{"enabled", "", value(lineCfg.RateLimit.Enabled)},
					field{"requests_per_second", "", value(lineCfg.RateLimit.RequestsPerSecond)},
					field{"burst", "", value(lineCfg.RateLimit.Burst)},
				)},
			)},
		)},
	)

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: comment(configHeader),
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}
