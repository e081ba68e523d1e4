package config

import (
	"fmt"

	"github.com/marmos91/blockfs/pkg/adapter"
	"github.com/marmos91/blockfs/pkg/adapter/line"
	"github.com/marmos91/blockfs/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete BlockFS configuration
//   - serverMetrics: Optional metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: If no adapter is enabled
func CreateAdapters(cfg *Config, serverMetrics metrics.ServerMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.Line.Enabled {
		adapters = append(adapters, line.New(cfg.Adapters.Line, serverMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
