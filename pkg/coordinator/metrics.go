package coordinator

import (
	"sync/atomic"
	"time"
)

// CoordinatorMetrics aggregates metrics across the coordinator.
type CoordinatorMetrics struct {
	// Connections
	ActiveConnections int64 `json:"activeConnections"`
	ActiveUsers       int64 `json:"activeUsers"`
	TotalConnections  int64 `json:"totalConnections"`
	PeakConnections   int64 `json:"peakConnections"`

	// Sessions
	ActiveSessions    int64 `json:"activeSessions"`
	SessionsCreated   int64 `json:"sessionsCreated"`
	SessionsDestroyed int64 `json:"sessionsDestroyed"`
	PeakSessions      int64 `json:"peakSessions"`

	// Envelopes
	EnvelopesRouted    int64 `json:"envelopesRouted"`
	EnvelopesFailed    int64 `json:"envelopesFailed"`
	ValidationFailures int64 `json:"validationFailures"`

	// Broadcast
	Broadcasts int64 `json:"broadcasts"`
	Deliveries int64 `json:"deliveries"`
	PeersGone  int64 `json:"peersGone"`

	// Locks
	LocksAcquired int64 `json:"locksAcquired"`
	LockConflicts int64 `json:"lockConflicts"`
	LocksReleased int64 `json:"locksReleased"`
	LocksExpired  int64 `json:"locksExpired"`

	// Errors
	RouterPanics int64 `json:"routerPanics"`

	// Latency (microseconds)
	RouteLatencyP50 int64 `json:"routeLatencyP50"`
	RouteLatencyP99 int64 `json:"routeLatencyP99"`

	// Timestamp
	CollectedAt time.Time `json:"collectedAt"`
}

// MetricsCollector collects and aggregates metrics over time.
type MetricsCollector struct {
	// Counters (atomic)
	envelopesRouted    atomic.Int64
	envelopesFailed    atomic.Int64
	validationFailures atomic.Int64
	broadcasts         atomic.Int64
	deliveries         atomic.Int64
	peersGone          atomic.Int64
	locksAcquired      atomic.Int64
	lockConflicts      atomic.Int64
	locksReleased      atomic.Int64
	locksExpired       atomic.Int64
	routerPanics       atomic.Int64

	// Latency tracking
	latencies []int64
	latencyMu atomic.Int32 // Simple spinlock
}

// NewMetricsCollector creates a new MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		latencies: make([]int64, 0, 1000),
	}
}

// RecordEnvelopeRouted records a successfully routed envelope.
func (m *MetricsCollector) RecordEnvelopeRouted() {
	m.envelopesRouted.Add(1)
}

// RecordEnvelopeFailed records an envelope answered with an error.
func (m *MetricsCollector) RecordEnvelopeFailed() {
	m.envelopesFailed.Add(1)
}

// RecordValidationFailure records a frame rejected before dispatch.
func (m *MetricsCollector) RecordValidationFailure() {
	m.validationFailures.Add(1)
}

// RecordBroadcast records a fan-out and how many peers it reached.
func (m *MetricsCollector) RecordBroadcast(delivered int) {
	m.broadcasts.Add(1)
	m.deliveries.Add(int64(delivered))
}

// RecordDelivery records a single direct delivery.
func (m *MetricsCollector) RecordDelivery() {
	m.deliveries.Add(1)
}

// RecordPeerGone records a send that found its peer gone.
func (m *MetricsCollector) RecordPeerGone() {
	m.peersGone.Add(1)
}

// RecordLockAcquired records a granted lock lease.
func (m *MetricsCollector) RecordLockAcquired() {
	m.locksAcquired.Add(1)
}

// RecordLockConflict records a lock or edit refused by a held lease.
func (m *MetricsCollector) RecordLockConflict() {
	m.lockConflicts.Add(1)
}

// RecordLockReleased records an explicit or implicit lease release.
func (m *MetricsCollector) RecordLockReleased() {
	m.locksReleased.Add(1)
}

// RecordLocksExpired records leases cleared by a sweep.
func (m *MetricsCollector) RecordLocksExpired(n int) {
	m.locksExpired.Add(int64(n))
}

// RecordRouterPanic records a recovered handler panic.
func (m *MetricsCollector) RecordRouterPanic() {
	m.routerPanics.Add(1)
}

// RecordRouteLatency records envelope routing latency in microseconds.
func (m *MetricsCollector) RecordRouteLatency(latencyUs int64) {
	// Simple spinlock for latency array
	for !m.latencyMu.CompareAndSwap(0, 1) {
		// Spin
	}
	defer m.latencyMu.Store(0)

	// Keep only recent samples
	if len(m.latencies) >= 1000 {
		m.latencies = m.latencies[500:] // Drop oldest half
	}
	m.latencies = append(m.latencies, latencyUs)
}

// Snapshot returns current counter values. Gauge fields for connections
// and sessions are filled in by the coordinator from the registry and
// manager when it assembles the full picture.
func (m *MetricsCollector) Snapshot() *CoordinatorMetrics {
	metrics := &CoordinatorMetrics{
		EnvelopesRouted:    m.envelopesRouted.Load(),
		EnvelopesFailed:    m.envelopesFailed.Load(),
		ValidationFailures: m.validationFailures.Load(),
		Broadcasts:         m.broadcasts.Load(),
		Deliveries:         m.deliveries.Load(),
		PeersGone:          m.peersGone.Load(),
		LocksAcquired:      m.locksAcquired.Load(),
		LockConflicts:      m.lockConflicts.Load(),
		LocksReleased:      m.locksReleased.Load(),
		LocksExpired:       m.locksExpired.Load(),
		RouterPanics:       m.routerPanics.Load(),
		CollectedAt:        time.Now().UTC(),
	}

	metrics.RouteLatencyP50, metrics.RouteLatencyP99 = m.latencyPercentiles()

	return metrics
}

// latencyPercentiles calculates P50 and P99 latencies.
func (m *MetricsCollector) latencyPercentiles() (p50, p99 int64) {
	// Simple spinlock
	for !m.latencyMu.CompareAndSwap(0, 1) {
		// Spin
	}
	defer m.latencyMu.Store(0)

	n := len(m.latencies)
	if n == 0 {
		return 0, 0
	}

	// Copy and sort
	sorted := make([]int64, n)
	copy(sorted, m.latencies)

	// Simple sort (not efficient but fine for small arrays)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	p50 = sorted[n/2]
	p99 = sorted[(n*99)/100]

	return p50, p99
}

// Reset resets all counters.
func (m *MetricsCollector) Reset() {
	m.envelopesRouted.Store(0)
	m.envelopesFailed.Store(0)
	m.validationFailures.Store(0)
	m.broadcasts.Store(0)
	m.deliveries.Store(0)
	m.peersGone.Store(0)
	m.locksAcquired.Store(0)
	m.lockConflicts.Store(0)
	m.locksReleased.Store(0)
	m.locksExpired.Store(0)
	m.routerPanics.Store(0)

	// Clear latencies
	for !m.latencyMu.CompareAndSwap(0, 1) {
		// Spin
	}
	m.latencies = m.latencies[:0]
	m.latencyMu.Store(0)
}
