package config

import (
	"github.com/marmos91/blockfs/pkg/metrics"
	promMetrics "github.com/marmos91/blockfs/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// ServerMetrics is the collector for the line adapter (never nil, uses noop if disabled)
	ServerMetrics metrics.ServerMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics for the line adapter
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns a no-op collector (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Server:        nil,
			ServerMetrics: metrics.NewNoopServerMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:        server,
		ServerMetrics: promMetrics.NewServerMetrics(),
	}
}
