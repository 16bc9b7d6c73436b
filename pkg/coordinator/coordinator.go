package coordinator

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// Coordinator wires the registry, session manager, dispatcher, and
// router together behind one object. Construct it once at process start
// and share the pointer with every connection handler; all methods are
// safe for concurrent use.
type Coordinator struct {
	config     *Config
	registry   *Registry
	manager    *SessionManager
	dispatcher *Dispatcher
	router     *Router
	metrics    *MetricsCollector
	history    *RouteHistory
	logger     *slog.Logger

	closed atomic.Bool

	// Connection lifecycle hooks, set before traffic starts.
	onConnect    func(*Connection)
	onDisconnect func(*Connection)
}

// New creates a Coordinator. A nil config uses DefaultConfig; a nil
// logger uses slog.Default.
func New(config *Config, logger *slog.Logger) (*Coordinator, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics := NewMetricsCollector()
	registry := NewRegistry(config.MaxConnections, logger)
	dispatcher := NewDispatcher(registry, metrics, logger)
	manager := NewSessionManager(registry, dispatcher, config, metrics, logger)
	history := NewRouteHistory(config.HistorySize)
	router := NewRouter(manager, dispatcher, metrics, history, config.Recorder, logger)

	c := &Coordinator{
		config:     config,
		registry:   registry,
		manager:    manager,
		dispatcher: dispatcher,
		router:     router,
		metrics:    metrics,
		history:    history,
		logger:     logger.With("component", "coordinator"),
	}

	dispatcher.BindMembers(manager.Recipients)
	dispatcher.SetOnPeerGone(func(connectionID string) {
		c.Disconnect(connectionID)
	})

	return c, nil
}

// SetConnectionHooks sets callbacks fired after a connection registers
// and after one is torn down. Call before traffic starts.
func (c *Coordinator) SetConnectionHooks(onConnect, onDisconnect func(*Connection)) {
	c.onConnect = onConnect
	c.onDisconnect = onDisconnect
}

// Use appends middleware around every routed envelope.
func (c *Coordinator) Use(mw ...Middleware) {
	c.router.Use(mw...)
}

// Connect registers a new connection and confirms it to the peer. The
// connection ID must be unique per network link; the transport mints it.
func (c *Coordinator) Connect(connectionID, userID, displayName, remoteAddr string, peer Peer) (*Connection, error) {
	if c.closed.Load() {
		return nil, opError("connect", "", connectionID, ErrShutdown)
	}

	conn := NewConnection(connectionID, userID, displayName, remoteAddr, peer)
	if err := c.registry.Register(conn); err != nil {
		return nil, opError("connect", "", connectionID, err)
	}

	if err := c.dispatcher.SendTo(connectionID, protocol.NewConnected(connectionID, userID, displayName)); err != nil {
		c.manager.HandleDisconnect(connectionID)
		return nil, err
	}

	if c.onConnect != nil {
		c.onConnect(conn)
	}
	return conn, nil
}

// Disconnect tears down a connection: presence removed from every joined
// document, held locks released, registry entry gone, peer closed.
// Idempotent; unknown IDs are a no-op.
func (c *Coordinator) Disconnect(connectionID string) {
	conn := c.manager.HandleDisconnect(connectionID)
	if conn != nil && c.onDisconnect != nil {
		c.onDisconnect(conn)
	}
}

// Route processes one raw inbound frame from a registered connection.
// Frames from unknown connections are dropped.
func (c *Coordinator) Route(ctx context.Context, connectionID string, raw []byte) {
	conn, ok := c.registry.Get(connectionID)
	if !ok {
		c.logger.Warn("frame from unknown connection", "connection_id", connectionID)
		return
	}
	c.router.Route(ctx, conn, raw)
}

// SweepExpiredLocks clears every stale lease and returns how many were
// cleared. External callers (admin endpoint, cron) drive this; the
// coordinator never schedules it itself.
func (c *Coordinator) SweepExpiredLocks() int {
	return c.manager.SweepExpiredLocks()
}

// Broadcast delivers an envelope to every member of a document session.
// It backs the admin force-broadcast.
func (c *Coordinator) Broadcast(documentID string, env *protocol.Envelope) int {
	return c.dispatcher.BroadcastToDocument(documentID, env, "")
}

// Registry returns the connection registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Sessions returns the session manager.
func (c *Coordinator) Sessions() *SessionManager { return c.manager }

// Dispatcher returns the broadcast dispatcher.
func (c *Coordinator) Dispatcher() *Dispatcher { return c.dispatcher }

// History returns the route history ring buffer.
func (c *Coordinator) History() *RouteHistory { return c.history }

// Metrics returns the full metrics snapshot with the connection and
// session gauges filled in.
func (c *Coordinator) Metrics() *CoordinatorMetrics {
	snap := c.metrics.Snapshot()

	rs := c.registry.Stats()
	snap.ActiveConnections = int64(rs.Active)
	snap.ActiveUsers = int64(rs.Users)
	snap.TotalConnections = int64(rs.TotalRegistered)
	snap.PeakConnections = int64(rs.Peak)

	ms := c.manager.Stats()
	snap.ActiveSessions = int64(ms.Active)
	snap.SessionsCreated = int64(ms.TotalCreated)
	snap.SessionsDestroyed = int64(ms.TotalDestroyed)
	snap.PeakSessions = int64(ms.Peak)

	return snap
}

// Close refuses new connections and disconnects every existing one. The
// audit recorder, if any, is closed last.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, info := range c.registry.List() {
		c.Disconnect(info.ID)
	}

	c.logger.Info("coordinator closed")
	if c.config.Recorder != nil {
		return c.config.Recorder.Close()
	}
	return nil
}
