package middleware

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/syncroom-dev/syncroom/pkg/coordinator"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "syncroom").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for envelope routing duration.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:   "syncroom",
		Subsystem:   "",
		ConstLabels: nil,
		Buckets:     prometheus.DefBuckets,
		Registry:    prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus metrics for the coordinator.
type metrics struct {
	envelopesTotal    *prometheus.CounterVec
	envelopeDuration  *prometheus.HistogramVec
	envelopeErrors    *prometheus.CounterVec
	activeConnections prometheus.Gauge
	activeSessions    prometheus.Gauge
	broadcastsTotal   prometheus.Counter
	deliveriesTotal   prometheus.Counter
	peersGoneTotal    prometheus.Counter
	locksAcquired     prometheus.Counter
	locksReleased     *prometheus.CounterVec
	lockConflicts     prometheus.Counter
}

// globalMetrics is the singleton metrics instance.
// Created on first call to Prometheus().
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

// initMetrics initializes the Prometheus metrics.
func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		envelopesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "envelopes_total",
			Help:        "Total number of envelopes routed",
			ConstLabels: config.ConstLabels,
		}, []string{"type", "status"}),

		envelopeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "envelope_duration_seconds",
			Help:        "Envelope routing duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"type"}),

		envelopeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "envelope_errors_total",
			Help:        "Total number of envelope routing errors",
			ConstLabels: config.ConstLabels,
		}, []string{"type", "error_type"}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of live WebSocket connections",
			ConstLabels: config.ConstLabels,
		}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of active document sessions",
			ConstLabels: config.ConstLabels,
		}),

		broadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcasts_total",
			Help:        "Total number of fan-out broadcasts",
			ConstLabels: config.ConstLabels,
		}),

		deliveriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "deliveries_total",
			Help:        "Total number of envelopes delivered to peers",
			ConstLabels: config.ConstLabels,
		}),

		peersGoneTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "peers_gone_total",
			Help:        "Total number of sends that found the peer gone",
			ConstLabels: config.ConstLabels,
		}),

		locksAcquired: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "locks_acquired_total",
			Help:        "Total number of lock leases granted",
			ConstLabels: config.ConstLabels,
		}),

		locksReleased: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "locks_released_total",
			Help:        "Total number of lock leases ended, by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		lockConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "lock_conflicts_total",
			Help:        "Total number of acquires and edits refused by a held lease",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Prometheus creates middleware that collects Prometheus metrics for
// every routed envelope.
//
// Metrics collected:
//   - syncroom_envelopes_total: Counter of envelopes by type and status
//   - syncroom_envelope_duration_seconds: Histogram of routing duration
//   - syncroom_envelope_errors_total: Counter of errors by type and error class
//   - syncroom_active_connections / syncroom_active_sessions: Gauges driven
//     by the Record* helpers below
//   - syncroom_broadcasts_total, syncroom_deliveries_total,
//     syncroom_peers_gone_total, syncroom_locks_*: Counters driven by the
//     Record* helpers
//
// Example:
//
//	coord.Use(middleware.Prometheus(
//	    middleware.WithNamespace("myapp"),
//	))
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) coordinator.Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	// Initialize metrics once
	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return coordinator.MiddlewareFunc(func(ctx *coordinator.Ctx, next func() error) error {
		envelopeType := string(ctx.Type())

		start := time.Now()
		err := next()
		duration := time.Since(start).Seconds()

		m.envelopeDuration.WithLabelValues(envelopeType).Observe(duration)

		status := "success"
		if err != nil {
			status = "error"
			m.envelopeErrors.WithLabelValues(envelopeType, categorizeError(err)).Inc()
		}
		m.envelopesTotal.WithLabelValues(envelopeType, status).Inc()

		return err
	})
}

// categorizeError maps an error to a bounded label value, keeping
// message text out of the label space.
func categorizeError(err error) string {
	switch {
	case errors.Is(err, coordinator.ErrLockConflict):
		return "lock_conflict"
	case errors.Is(err, coordinator.ErrNotLockHolder):
		return "not_lock_holder"
	case errors.Is(err, coordinator.ErrSessionNotFound),
		errors.Is(err, coordinator.ErrNotInSession):
		return "session_not_found"
	case errors.Is(err, coordinator.ErrUnknownConnection):
		return "unknown_connection"
	case errors.Is(err, coordinator.ErrPeerGone):
		return "peer_gone"
	default:
		return "internal"
	}
}

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordConnectionOpen records a connection registering.
// Wire it to the coordinator's connect hook.
func RecordConnectionOpen() {
	if globalMetrics != nil {
		globalMetrics.activeConnections.Inc()
	}
}

// RecordConnectionClose records a connection teardown.
func RecordConnectionClose() {
	if globalMetrics != nil {
		globalMetrics.activeConnections.Dec()
	}
}

// RecordSessionCreate records a document session being created.
func RecordSessionCreate() {
	if globalMetrics != nil {
		globalMetrics.activeSessions.Inc()
	}
}

// RecordSessionDestroy records a document session being destroyed.
func RecordSessionDestroy() {
	if globalMetrics != nil {
		globalMetrics.activeSessions.Dec()
	}
}

// RecordBroadcast records one fan-out and how many peers it reached.
func RecordBroadcast(delivered int) {
	if globalMetrics != nil {
		globalMetrics.broadcastsTotal.Inc()
		globalMetrics.deliveriesTotal.Add(float64(delivered))
	}
}

// RecordPeerGone records a send that found its peer gone.
func RecordPeerGone() {
	if globalMetrics != nil {
		globalMetrics.peersGoneTotal.Inc()
	}
}

// RecordLockAcquired records a granted lock lease.
func RecordLockAcquired() {
	if globalMetrics != nil {
		globalMetrics.locksAcquired.Inc()
	}
}

// RecordLockReleased records a lease ending with the given reason
// ("released", "expired", or "disconnected").
func RecordLockReleased(reason string) {
	if globalMetrics != nil {
		globalMetrics.locksReleased.WithLabelValues(reason).Inc()
	}
}

// RecordLockConflict records an acquire or edit refused by a held lease.
func RecordLockConflict() {
	if globalMetrics != nil {
		globalMetrics.lockConflicts.Inc()
	}
}
