package coordinator

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Connection is one authenticated transport attachment. A user may hold
// any number of connections at once; each gets its own Connection with
// its own ID.
type Connection struct {
	// ID is the server-assigned connection ID.
	ID string

	// UserID is the authenticated user behind this connection.
	UserID string

	// DisplayName is the name shown to other collaborators.
	DisplayName string

	// RemoteAddr is the client address as seen by the transport.
	RemoteAddr string

	// ConnectedAt is when the connection registered.
	ConnectedAt time.Time

	peer Peer

	// lastDocument is the document most recently joined on this
	// connection. Guarded by the registry lock.
	lastDocument string
}

// NewConnection creates a Connection bound to the given peer.
func NewConnection(id, userID, displayName, remoteAddr string, peer Peer) *Connection {
	return &Connection{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now().UTC(),
		peer:        peer,
	}
}

// Peer returns the transport half of the connection.
func (c *Connection) Peer() Peer {
	return c.peer
}

// ConnectionInfo is the admin-facing view of a connection.
type ConnectionInfo struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	DisplayName    string    `json:"displayName"`
	RemoteAddr     string    `json:"remoteAddr,omitempty"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastDocumentID string    `json:"lastDocumentId,omitempty"`
}

// Registry tracks all live connections and indexes them by user.
// It is the authority on which connections exist; session membership
// lives in the SessionManager.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[string]map[string]struct{} // user ID -> connection IDs

	maxConnections int

	// Metrics
	totalRegistered   atomic.Uint64
	totalUnregistered atomic.Uint64
	peak              int // guarded by mu

	logger *slog.Logger
}

// NewRegistry creates an empty Registry. maxConnections of 0 means no limit.
func NewRegistry(maxConnections int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:          make(map[string]*Connection),
		byUser:         make(map[string]map[string]struct{}),
		maxConnections: maxConnections,
		logger:         logger.With("component", "registry"),
	}
}

// Register adds a connection. The connection ID must be unused.
func (r *Registry) Register(conn *Connection) error {
	r.mu.Lock()

	if r.maxConnections > 0 && len(r.conns) >= r.maxConnections {
		r.mu.Unlock()
		return ErrMaxConnectionsReached
	}
	if _, exists := r.conns[conn.ID]; exists {
		r.mu.Unlock()
		return ErrDuplicateConnection
	}

	r.conns[conn.ID] = conn
	set, ok := r.byUser[conn.UserID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[conn.UserID] = set
	}
	set[conn.ID] = struct{}{}

	r.totalRegistered.Add(1)
	if len(r.conns) > r.peak {
		r.peak = len(r.conns)
	}
	active := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("connection registered",
		"connection_id", conn.ID,
		"user_id", conn.UserID,
		"active_connections", active)

	return nil
}

// Unregister removes a connection and returns it. Unregistering an
// unknown ID is a no-op.
func (r *Registry) Unregister(id string) (*Connection, bool) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}

	delete(r.conns, id)
	if set, ok := r.byUser[conn.UserID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	r.totalUnregistered.Add(1)
	active := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("connection unregistered",
		"connection_id", id,
		"user_id", conn.UserID,
		"active_connections", active)

	return conn, true
}

// Get retrieves a connection by ID.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// ConnectionsForUser returns the IDs of all connections held by a user.
func (r *Registry) ConnectionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetLastDocument records the document most recently joined on a connection.
func (r *Registry) SetLastDocument(id, documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.lastDocument = documentID
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserCount returns the number of distinct users with live connections.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// List returns admin-facing views of all connections, ordered by ID.
func (r *Registry) List() []ConnectionInfo {
	r.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		infos = append(infos, ConnectionInfo{
			ID:             conn.ID,
			UserID:         conn.UserID,
			DisplayName:    conn.DisplayName,
			RemoteAddr:     conn.RemoteAddr,
			ConnectedAt:    conn.ConnectedAt,
			LastDocumentID: conn.lastDocument,
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Info returns the admin-facing view of one connection.
func (r *Registry) Info(id string) (ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		ID:             conn.ID,
		UserID:         conn.UserID,
		DisplayName:    conn.DisplayName,
		RemoteAddr:     conn.RemoteAddr,
		ConnectedAt:    conn.ConnectedAt,
		LastDocumentID: conn.lastDocument,
	}, true
}

// ForEach iterates over all connections.
// The callback should not perform long-running operations as it holds the read lock.
func (r *Registry) ForEach(fn func(*Connection) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.conns {
		if !fn(conn) {
			break
		}
	}
}

// RegistryStats contains aggregated registry statistics.
type RegistryStats struct {
	Active            int
	Users             int
	TotalRegistered   uint64
	TotalUnregistered uint64
	Peak              int
}

// Stats returns aggregated registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	active := len(r.conns)
	users := len(r.byUser)
	peak := r.peak
	r.mu.RUnlock()

	return RegistryStats{
		Active:            active,
		Users:             users,
		TotalRegistered:   r.totalRegistered.Load(),
		TotalUnregistered: r.totalUnregistered.Load(),
		Peak:              peak,
	}
}
