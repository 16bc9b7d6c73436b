package syncroom

import (
	"log/slog"

	"github.com/syncroom-dev/syncroom/pkg/admin"
	"github.com/syncroom-dev/syncroom/pkg/coordinator"
	"github.com/syncroom-dev/syncroom/pkg/server"
)

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled exposes /metrics and installs the metrics middleware.
	Enabled bool

	// Path is the metrics endpoint path (default: "/metrics").
	Path string
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled installs the tracing middleware. The tracer provider
	// itself is configured by the host process.
	Enabled bool

	// TracerName overrides the default tracer name.
	TracerName string
}

// Config is the top-level application configuration. Zero values get
// sensible defaults; only reachable ports and tokens need setting.
type Config struct {
	// Coordinator configures sessions, locks, and history.
	Coordinator *coordinator.Config

	// Server configures the WebSocket transport edge.
	Server *server.Config

	// Admin configures the operator API.
	Admin admin.Config

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig

	// Logger is the structured logger shared by all components.
	// Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with metrics enabled and everything
// else at component defaults.
func DefaultConfig() Config {
	return Config{
		Coordinator: coordinator.DefaultConfig(),
		Server:      server.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Coordinator == nil {
		c.Coordinator = coordinator.DefaultConfig()
	}
	if c.Server == nil {
		c.Server = server.DefaultConfig()
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Server.Logger == nil {
		c.Server.Logger = c.Logger
	}
	if c.Admin.Logger == nil {
		c.Admin.Logger = c.Logger
	}
}
