package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/syncroom-dev/syncroom/pkg/coordinator"
	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

func resetGlobalMetricsForTest() {
	globalMetricsMu.Lock()
	globalMetrics = nil
	globalMetricsMu.Unlock()
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func editCtx(t *testing.T) *coordinator.Ctx {
	t.Helper()
	env, err := protocol.New(protocol.MessageDocumentEdit, &protocol.DocumentEditPayload{
		DocumentID: "doc-1",
		Operation:  "insert",
		Position:   0,
		Content:    "x",
	})
	if err != nil {
		t.Fatalf("New envelope: %v", err)
	}
	conn := &coordinator.Connection{ID: "conn-1", UserID: "alice", DisplayName: "Alice"}
	return coordinator.NewCtx(context.Background(), conn, env, "doc-1")
}

func TestPrometheusMiddleware_RecordsSuccessAndError(t *testing.T) {
	t.Run("success increments success counter and duration", func(t *testing.T) {
		resetGlobalMetricsForTest()
		reg := prometheus.NewRegistry()

		mw := Prometheus(WithRegistry(reg))
		ctx := editCtx(t)

		if err := mw.Handle(ctx, func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		m := globalMetrics
		if m == nil {
			t.Fatal("expected metrics to be initialized")
		}
		if got := metricCounterValue(t, m.envelopesTotal.WithLabelValues("document_edit", "success")); got != 1 {
			t.Fatalf("envelopes_total(success)=%v, want 1", got)
		}
		if got := metricCounterValue(t, m.envelopesTotal.WithLabelValues("document_edit", "error")); got != 0 {
			t.Fatalf("envelopes_total(error)=%v, want 0", got)
		}
		if got := metricHistogramCount(t, m.envelopeDuration.WithLabelValues("document_edit")); got != 1 {
			t.Fatalf("envelope_duration count=%v, want 1", got)
		}
	})

	t.Run("error increments error counter with categorized label", func(t *testing.T) {
		resetGlobalMetricsForTest()
		reg := prometheus.NewRegistry()

		mw := Prometheus(WithRegistry(reg))
		ctx := editCtx(t)

		handlerErr := coordinator.ErrLockConflict
		err := mw.Handle(ctx, func() error { return handlerErr })
		if !errors.Is(err, coordinator.ErrLockConflict) {
			t.Fatalf("middleware swallowed the handler error: %v", err)
		}

		m := globalMetrics
		if got := metricCounterValue(t, m.envelopesTotal.WithLabelValues("document_edit", "error")); got != 1 {
			t.Fatalf("envelopes_total(error)=%v, want 1", got)
		}
		if got := metricCounterValue(t, m.envelopeErrors.WithLabelValues("document_edit", "lock_conflict")); got != 1 {
			t.Fatalf("envelope_errors(lock_conflict)=%v, want 1", got)
		}
	})
}

func TestPrometheusMiddleware_GlobalSingleton(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()

	mw1 := Prometheus(WithRegistry(reg))
	first := globalMetrics

	// A second middleware instance must reuse the same collectors
	// instead of re-registering them.
	mw2 := Prometheus(WithRegistry(prometheus.NewRegistry()))
	if globalMetrics != first {
		t.Fatal("second Prometheus() call replaced the global metrics")
	}

	ctx := editCtx(t)
	if err := mw1.Handle(ctx, func() error { return nil }); err != nil {
		t.Fatalf("mw1: %v", err)
	}
	if err := mw2.Handle(ctx, func() error { return nil }); err != nil {
		t.Fatalf("mw2: %v", err)
	}

	if got := metricCounterValue(t, first.envelopesTotal.WithLabelValues("document_edit", "success")); got != 2 {
		t.Fatalf("envelopes_total(success)=%v, want 2", got)
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{coordinator.ErrLockConflict, "lock_conflict"},
		{coordinator.ErrNotLockHolder, "not_lock_holder"},
		{coordinator.ErrSessionNotFound, "session_not_found"},
		{coordinator.ErrNotInSession, "session_not_found"},
		{coordinator.ErrUnknownConnection, "unknown_connection"},
		{coordinator.ErrPeerGone, "peer_gone"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := categorizeError(tt.err); got != tt.want {
			t.Errorf("categorizeError(%v)=%q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRecordHelpers(t *testing.T) {
	resetGlobalMetricsForTest()

	// Before initialization every helper must be a no-op.
	RecordConnectionOpen()
	RecordSessionCreate()
	RecordBroadcast(3)
	RecordPeerGone()
	RecordLockAcquired()
	RecordLockReleased("released")
	RecordLockConflict()

	reg := prometheus.NewRegistry()
	_ = Prometheus(WithRegistry(reg))
	m := globalMetrics

	RecordConnectionOpen()
	RecordConnectionOpen()
	RecordConnectionClose()
	if got := metricGaugeValue(t, m.activeConnections); got != 1 {
		t.Fatalf("active_connections=%v, want 1", got)
	}

	RecordSessionCreate()
	RecordSessionDestroy()
	if got := metricGaugeValue(t, m.activeSessions); got != 0 {
		t.Fatalf("active_sessions=%v, want 0", got)
	}

	RecordBroadcast(3)
	RecordBroadcast(2)
	if got := metricCounterValue(t, m.broadcastsTotal); got != 2 {
		t.Fatalf("broadcasts_total=%v, want 2", got)
	}
	if got := metricCounterValue(t, m.deliveriesTotal); got != 5 {
		t.Fatalf("deliveries_total=%v, want 5", got)
	}

	RecordPeerGone()
	if got := metricCounterValue(t, m.peersGoneTotal); got != 1 {
		t.Fatalf("peers_gone_total=%v, want 1", got)
	}

	RecordLockAcquired()
	RecordLockReleased("expired")
	RecordLockConflict()
	if got := metricCounterValue(t, m.locksAcquired); got != 1 {
		t.Fatalf("locks_acquired_total=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.locksReleased.WithLabelValues("expired")); got != 1 {
		t.Fatalf("locks_released_total(expired)=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.lockConflicts); got != 1 {
		t.Fatalf("lock_conflicts_total=%v, want 1", got)
	}
}

func TestMetricsOptions(t *testing.T) {
	config := defaultMetricsConfig()
	WithNamespace("myapp")(&config)
	WithSubsystem("ws")(&config)
	WithConstLabels(prometheus.Labels{"env": "test"})(&config)
	WithBuckets([]float64{0.1, 1})(&config)
	reg := prometheus.NewRegistry()
	WithRegistry(reg)(&config)

	if config.Namespace != "myapp" {
		t.Errorf("Namespace=%q, want myapp", config.Namespace)
	}
	if config.Subsystem != "ws" {
		t.Errorf("Subsystem=%q, want ws", config.Subsystem)
	}
	if config.ConstLabels["env"] != "test" {
		t.Errorf("ConstLabels=%v, want env=test", config.ConstLabels)
	}
	if len(config.Buckets) != 2 {
		t.Errorf("Buckets=%v, want 2 buckets", config.Buckets)
	}
	if config.Registry != reg {
		t.Error("Registry not applied")
	}

	resetGlobalMetricsForTest()
	mw := Prometheus(WithNamespace("myapp"), WithRegistry(reg))
	ctx := editCtx(t)
	if err := mw.Handle(ctx, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() == "myapp_envelopes_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected myapp_envelopes_total in the registry")
	}
}
