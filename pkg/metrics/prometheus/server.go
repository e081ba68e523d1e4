// Package prometheus implements metrics.ServerMetrics on Prometheus collectors.
package prometheus

import (
	"time"

	"github.com/marmos91/blockfs/pkg/fs"
	"github.com/marmos91/blockfs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics is the Prometheus implementation of metrics.ServerMetrics.
type serverMetrics struct {
	commandsTotal          *prometheus.CounterVec
	commandDuration        *prometheus.HistogramVec
	commandsInFlight       *prometheus.GaugeVec
	bytesTransferred       *prometheus.CounterVec
	rateLimited            prometheus.Counter
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	filesUsed              prometheus.Gauge
	blocksUsed             prometheus.Gauge
	slotsUsed              prometheus.Gauge
	bytesUsed              prometheus.Gauge
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics on the global
// registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopServerMetrics()
	}
	return NewServerMetricsWith(metrics.GetRegistry())
}

// NewServerMetricsWith registers the collectors on reg.
func NewServerMetricsWith(reg prometheus.Registerer) metrics.ServerMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockfs_commands_total",
				Help: "Total number of commands by verb, status and error code",
			},
			[]string{"verb", "status", "error_code"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "blockfs_command_duration_milliseconds",
				Help: "Duration of commands in milliseconds",
				Buckets: []float64{
					0.1,  // 100µs
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"verb"},
		),
		commandsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockfs_commands_in_flight",
				Help: "Current number of commands being executed",
			},
			[]string{"verb"},
		),
		bytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockfs_bytes_transferred_total",
				Help: "Total file payload bytes read and written",
			},
			[]string{"direction"},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blockfs_commands_rate_limited_total",
				Help: "Total number of commands rejected by the per-connection rate limit",
			},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockfs_active_connections",
				Help: "Current number of active client connections",
			},
		),
		connectionsAccepted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blockfs_connections_accepted_total",
				Help: "Total number of client connections accepted",
			},
		),
		connectionsClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blockfs_connections_closed_total",
				Help: "Total number of client connections closed",
			},
		),
		connectionsForceClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blockfs_connections_force_closed_total",
				Help: "Total number of connections force-closed during shutdown timeout",
			},
		),
		filesUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockfs_volume_files_used",
				Help: "Number of occupied inode slots",
			},
		),
		blocksUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockfs_volume_blocks_used",
				Help: "Number of allocated data blocks",
			},
		),
		slotsUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockfs_volume_chain_slots_used",
				Help: "Number of allocated chain slots",
			},
		),
		bytesUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockfs_volume_bytes_used",
				Help: "Sum of all file sizes in bytes",
			},
		),
	}
}

func (m *serverMetrics) RecordCommand(verb string, duration time.Duration, errorCode string) {
	status := "success"
	if errorCode != "" {
		status = "error"
	}

	m.commandsTotal.WithLabelValues(verb, status, errorCode).Inc()
	m.commandDuration.WithLabelValues(verb).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *serverMetrics) RecordCommandStart(verb string) {
	m.commandsInFlight.WithLabelValues(verb).Inc()
}

func (m *serverMetrics) RecordCommandEnd(verb string) {
	m.commandsInFlight.WithLabelValues(verb).Dec()
}

func (m *serverMetrics) RecordBytes(direction string, bytes int) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *serverMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

func (m *serverMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *serverMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *serverMetrics) SetVolumeUsage(stats fs.Statistics) {
	m.filesUsed.Set(float64(stats.FilesUsed))
	m.blocksUsed.Set(float64(stats.BlocksUsed))
	m.slotsUsed.Set(float64(stats.SlotsUsed))
	m.bytesUsed.Set(float64(stats.BytesUsed))
}
