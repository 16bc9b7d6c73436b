package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/syncroom-dev/syncroom"
	"github.com/syncroom-dev/syncroom/pkg/admin"
	"github.com/syncroom-dev/syncroom/pkg/audit"
	"github.com/syncroom-dev/syncroom/pkg/coordinator"
	"github.com/syncroom-dev/syncroom/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "syncroom.json"

	// EnvConfigPath overrides config discovery when set.
	EnvConfigPath = "SYNCROOM_CONFIG"

	// DefaultListen is the default serve address.
	DefaultListen = ":8080"
)

// Config represents the complete syncroom.json configuration. Durations
// are strings in time.ParseDuration syntax ("300s", "1h").
type Config struct {
	// Name is the deployment name, used only for logging.
	Name string `json:"name,omitempty"`

	// Listen is the serve address (default: ":8080").
	Listen string `json:"listen,omitempty"`

	// WS contains WebSocket transport settings.
	WS WSConfig `json:"ws,omitempty"`

	// Locks contains lock lease settings.
	Locks LocksConfig `json:"locks,omitempty"`

	// History contains route history settings.
	History HistoryConfig `json:"history,omitempty"`

	// Limits contains connection limits.
	Limits LimitsConfig `json:"limits,omitempty"`

	// Admin contains admin API settings.
	Admin AdminConfig `json:"admin,omitempty"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// Tracing contains OpenTelemetry settings.
	Tracing TracingConfig `json:"tracing,omitempty"`

	// Log contains logging settings.
	Log LogConfig `json:"log,omitempty"`

	// Audit contains audit trail settings.
	Audit AuditConfig `json:"audit,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// WSConfig contains WebSocket transport settings.
type WSConfig struct {
	// Path is the WebSocket endpoint path (default: "/ws").
	Path string `json:"path,omitempty"`

	// ReadTimeout is the client read deadline (default: "60s").
	ReadTimeout string `json:"readTimeout,omitempty"`

	// WriteTimeout is the per-frame write deadline (default: "10s").
	WriteTimeout string `json:"writeTimeout,omitempty"`

	// PingInterval is the heartbeat interval (default: "30s").
	PingInterval string `json:"pingInterval,omitempty"`

	// ReadLimit is the maximum inbound message size in bytes.
	ReadLimit int64 `json:"readLimit,omitempty"`

	// SendQueueSize is the per-connection outbound queue depth.
	SendQueueSize int `json:"sendQueueSize,omitempty"`

	// AllowedOrigins lists origins accepted during the upgrade. Empty
	// means same-origin only.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers
	// are honored.
	TrustedProxies []string `json:"trustedProxies,omitempty"`
}

// LocksConfig contains lock lease settings.
type LocksConfig struct {
	// DefaultDuration is the lease used when a request names none
	// (default: "300s").
	DefaultDuration string `json:"defaultDuration,omitempty"`

	// MaxDuration caps requested leases (default: "1h").
	MaxDuration string `json:"maxDuration,omitempty"`
}

// HistoryConfig contains route history settings.
type HistoryConfig struct {
	// Size is the ring buffer capacity (default: 256).
	Size int `json:"size,omitempty"`
}

// LimitsConfig contains connection limits.
type LimitsConfig struct {
	// MaxConnections caps concurrent connections. 0 means no limit.
	MaxConnections int `json:"maxConnections,omitempty"`
}

// AdminConfig contains admin API settings.
type AdminConfig struct {
	// Token guards the /api/v1 routes when set.
	Token string `json:"token,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Disabled turns the /metrics endpoint off.
	Disabled bool `json:"disabled,omitempty"`

	// Path is the metrics endpoint path (default: "/metrics").
	Path string `json:"path,omitempty"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	// Enabled installs the tracing middleware.
	Enabled bool `json:"enabled,omitempty"`

	// TracerName overrides the default tracer name.
	TracerName string `json:"tracerName,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is debug, info, warn, or error (default: "info").
	Level string `json:"level,omitempty"`

	// Format is text or json (default: "text").
	Format string `json:"format,omitempty"`
}

// AuditConfig contains audit trail settings.
type AuditConfig struct {
	// Dir enables the disk audit recorder when set.
	Dir string `json:"dir,omitempty"`
}

// New returns a Config with defaults applied.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
}

// Dir returns the directory the config was loaded from.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Load reads syncroom.json from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config: no %s found in %s", ConfigFileName, filepath.Dir(path))
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindProjectRoot walks up from startDir until it finds syncroom.json.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("config: no %s found in %s or any parent directory", ConfigFileName, startDir)
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from SYNCROOM_CONFIG when set,
// otherwise by walking up from the current working directory. A missing
// config file yields defaults, not an error.
func LoadFromWorkingDir() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFile(path)
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return New(), nil
	}
	return Load(root)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	for _, d := range []struct {
		name  string
		value string
	}{
		{"ws.readTimeout", c.WS.ReadTimeout},
		{"ws.writeTimeout", c.WS.WriteTimeout},
		{"ws.pingInterval", c.WS.PingInterval},
		{"locks.defaultDuration", c.Locks.DefaultDuration},
		{"locks.maxDuration", c.Locks.MaxDuration},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", d.name, d.value)
		}
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// Logger builds the slog logger described by the log section.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// AppConfig converts the file config into the application config. The
// returned config owns the audit recorder, if any; the App closes it.
func (c *Config) AppConfig(logger *slog.Logger) (syncroom.Config, error) {
	coordCfg := coordinator.DefaultConfig()
	if c.Locks.DefaultDuration != "" {
		coordCfg.DefaultLockDuration, _ = time.ParseDuration(c.Locks.DefaultDuration)
	}
	if c.Locks.MaxDuration != "" {
		coordCfg.MaxLockDuration, _ = time.ParseDuration(c.Locks.MaxDuration)
	}
	if c.History.Size > 0 {
		coordCfg.HistorySize = c.History.Size
	}
	coordCfg.MaxConnections = c.Limits.MaxConnections

	if c.Audit.Dir != "" {
		recorder, err := audit.NewDiskRecorder(c.Audit.Dir)
		if err != nil {
			return syncroom.Config{}, fmt.Errorf("config: audit dir: %w", err)
		}
		coordCfg.Recorder = recorder
	}

	srvCfg := server.DefaultConfig()
	if c.WS.Path != "" {
		srvCfg.Path = c.WS.Path
	}
	if c.WS.ReadTimeout != "" {
		srvCfg.ReadTimeout, _ = time.ParseDuration(c.WS.ReadTimeout)
	}
	if c.WS.WriteTimeout != "" {
		srvCfg.WriteTimeout, _ = time.ParseDuration(c.WS.WriteTimeout)
	}
	if c.WS.PingInterval != "" {
		srvCfg.PingInterval, _ = time.ParseDuration(c.WS.PingInterval)
	}
	if c.WS.ReadLimit > 0 {
		srvCfg.ReadLimit = c.WS.ReadLimit
	}
	if c.WS.SendQueueSize > 0 {
		srvCfg.SendQueueSize = c.WS.SendQueueSize
	}
	srvCfg.TrustedProxies = c.WS.TrustedProxies
	if len(c.WS.AllowedOrigins) > 0 {
		srvCfg.CheckOrigin = originChecker(c.WS.AllowedOrigins)
	}

	return syncroom.Config{
		Coordinator: coordCfg,
		Server:      srvCfg,
		Admin: admin.Config{
			Token: c.Admin.Token,
		},
		Metrics: syncroom.MetricsConfig{
			Enabled: !c.Metrics.Disabled,
			Path:    c.Metrics.Path,
		},
		Tracing: syncroom.TracingConfig{
			Enabled:    c.Tracing.Enabled,
			TracerName: c.Tracing.TracerName,
		},
		Logger: logger,
	}, nil
}

// originChecker accepts same-origin requests plus the listed origins.
// "*" accepts everything.
func originChecker(allowed []string) func(*http.Request) bool {
	hosts := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, origin := range allowed {
		if origin == "*" {
			wildcard = true
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			hosts[u.Host] = struct{}{}
		} else {
			hosts[origin] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		if server.SameOriginCheck(r) {
			return true
		}
		origin := r.Header.Get("Origin")
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[u.Host]
		return ok
	}
}
