package coordinator

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// SessionManager owns the document sessions and the connection → documents
// index. It creates sessions lazily on join and destroys them the moment
// the last member leaves.
//
// Lock order is manager before session; no code path takes two session
// locks at once. Structural changes (join, leave, destroy) run under the
// manager lock so a session cannot be destroyed out from under a joiner;
// cursor and edit traffic only reads the sessions map and then works
// against the session's own lock.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*DocumentSession
	connDocs map[string]map[string]struct{} // connection ID -> joined document IDs

	registry   *Registry
	dispatcher *Dispatcher
	config     *Config
	metrics    *MetricsCollector
	logger     *slog.Logger

	// Metrics
	totalCreated   atomic.Uint64
	totalDestroyed atomic.Uint64
	peakSessions   int // guarded by mu

	// Callbacks
	onSessionCreate  func(documentID string)
	onSessionDestroy func(documentID string)
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(registry *Registry, dispatcher *Dispatcher, config *Config, metrics *MetricsCollector, logger *slog.Logger) *SessionManager {
	if config == nil {
		config = DefaultConfig()
	}
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions:   make(map[string]*DocumentSession),
		connDocs:   make(map[string]map[string]struct{}),
		registry:   registry,
		dispatcher: dispatcher,
		config:     config,
		metrics:    metrics,
		logger:     logger.With("component", "session_manager"),
	}
}

// SetCallbacks sets the session lifecycle callbacks. Both run outside the
// manager lock. Call before the manager starts handling traffic.
func (m *SessionManager) SetCallbacks(onCreate, onDestroy func(documentID string)) {
	m.onSessionCreate = onCreate
	m.onSessionDestroy = onDestroy
}

// Join enters a document session, creating it when absent. The caller's
// presence replaces any prior presence for the same user. The returned
// snapshot is the join confirmation for the caller; everyone else in the
// session receives a presence-joined broadcast.
func (m *SessionManager) Join(connectionID, documentID, parentID string) (*protocol.SyncResponsePayload, error) {
	conn, ok := m.registry.Get(connectionID)
	if !ok {
		return nil, opError("join", documentID, connectionID, ErrUnknownConnection)
	}

	p := newPresence(conn.UserID, connectionID, conn.DisplayName)

	m.mu.Lock()
	sess, exists := m.sessions[documentID]
	if !exists {
		sess = newDocumentSession(documentID, parentID)
		m.sessions[documentID] = sess
		m.totalCreated.Add(1)
		if len(m.sessions) > m.peakSessions {
			m.peakSessions = len(m.sessions)
		}
	}
	snap := sess.join(p)
	docs, ok := m.connDocs[connectionID]
	if !ok {
		docs = make(map[string]struct{})
		m.connDocs[connectionID] = docs
	}
	docs[documentID] = struct{}{}
	m.mu.Unlock()

	m.registry.SetLastDocument(connectionID, documentID)

	if !exists {
		m.logger.Info("session created",
			"document_id", documentID,
			"parent_id", parentID,
			"user_id", conn.UserID)
		if m.onSessionCreate != nil {
			m.onSessionCreate(documentID)
		}
	}

	info := p.info()
	m.dispatcher.BroadcastToDocument(documentID, protocol.NewUserPresence(&protocol.UserPresencePayload{
		DocumentID: documentID,
		Event:      protocol.PresenceJoined,
		UserID:     conn.UserID,
		User:       &info,
	}), connectionID)

	return snap, nil
}

// Leave exits a document session. A lock held by the leaving user is
// cleared and announced with reason "released".
func (m *SessionManager) Leave(connectionID, documentID string) error {
	return m.leave(connectionID, documentID, protocol.UnlockReleased)
}

func (m *SessionManager) leave(connectionID, documentID string, reason protocol.UnlockReason) error {
	conn, ok := m.registry.Get(connectionID)
	if !ok {
		return opError("leave", documentID, connectionID, ErrUnknownConnection)
	}

	m.mu.Lock()
	sess, ok := m.sessions[documentID]
	if !ok {
		m.mu.Unlock()
		return opError("leave", documentID, connectionID, ErrSessionNotFound)
	}

	removed, empty, lockCleared := sess.leave(conn.UserID, connectionID)
	if docs, ok := m.connDocs[connectionID]; ok {
		delete(docs, documentID)
		if len(docs) == 0 {
			delete(m.connDocs, connectionID)
		}
	}

	destroyed := false
	if removed && empty {
		delete(m.sessions, documentID)
		m.totalDestroyed.Add(1)
		destroyed = true
	}
	m.mu.Unlock()

	if !removed {
		// The user's presence is owned by a newer connection; nothing to
		// announce on behalf of this one.
		return nil
	}

	if lockCleared {
		m.metrics.RecordLockReleased()
		m.logger.Info("lock released on leave",
			"document_id", documentID,
			"user_id", conn.UserID,
			"reason", string(reason))
	}

	if destroyed {
		m.logger.Info("session destroyed", "document_id", documentID)
		if m.onSessionDestroy != nil {
			m.onSessionDestroy(documentID)
		}
		return nil
	}

	if lockCleared {
		m.dispatcher.BroadcastToDocument(documentID,
			protocol.NewUnlockBroadcast(documentID, conn.UserID, reason), "")
	}
	m.dispatcher.BroadcastToDocument(documentID, protocol.NewUserPresence(&protocol.UserPresencePayload{
		DocumentID: documentID,
		Event:      protocol.PresenceLeft,
		UserID:     conn.UserID,
	}), connectionID)

	return nil
}

// HandleDisconnect tears down a connection: it leaves every joined
// document (releasing any held lock), removes the connection from the
// registry, and closes the transport peer. A second call for the same
// connection ID is a no-op. Returns the removed connection, or nil when
// it was already gone.
func (m *SessionManager) HandleDisconnect(connectionID string) *Connection {
	conn, ok := m.registry.Get(connectionID)
	if !ok {
		return nil
	}

	m.mu.RLock()
	docs := make([]string, 0, len(m.connDocs[connectionID]))
	for documentID := range m.connDocs[connectionID] {
		docs = append(docs, documentID)
	}
	m.mu.RUnlock()

	sort.Strings(docs)
	for _, documentID := range docs {
		if err := m.leave(connectionID, documentID, protocol.UnlockDisconnected); err != nil {
			m.logger.Warn("leave during disconnect failed",
				"connection_id", connectionID,
				"document_id", documentID,
				"error", err)
		}
	}

	removed, ok := m.registry.Unregister(connectionID)
	if !ok {
		// A concurrent disconnect won the race; it owns the teardown.
		return nil
	}
	if peer := removed.Peer(); peer != nil {
		peer.Close()
	}
	return conn
}

// ApplyCursor updates the caller's cursor and selection and relays the
// new state to the other members. Cursor updates never require the lock.
func (m *SessionManager) ApplyCursor(connectionID, documentID string, position, selectionStart, selectionEnd int) error {
	conn, sess, err := m.lookup("cursor", connectionID, documentID)
	if err != nil {
		return err
	}

	if !sess.updateCursor(conn.UserID, connectionID, position, selectionStart, selectionEnd) {
		return opError("cursor", documentID, connectionID, ErrNotInSession)
	}

	m.dispatcher.BroadcastToDocument(documentID, protocol.NewCursorBroadcast(&protocol.CursorPositionPayload{
		DocumentID:     documentID,
		Position:       position,
		SelectionStart: selectionStart,
		SelectionEnd:   selectionEnd,
		UserID:         conn.UserID,
	}), connectionID)

	return nil
}

// ApplyEdit relays an edit operation to the other members. The edit is
// refused with ErrLockConflict while another user holds an unexpired
// lease. The operation itself is opaque to the manager; it never touches
// document content.
func (m *SessionManager) ApplyEdit(connectionID, documentID string, op *protocol.DocumentEditPayload) error {
	conn, sess, err := m.lookup("edit", connectionID, documentID)
	if err != nil {
		return err
	}

	version, err := sess.applyEdit(conn.UserID, connectionID, time.Now())
	if err != nil {
		if errors.Is(err, ErrLockConflict) {
			m.metrics.RecordLockConflict()
		}
		return opError("edit", documentID, connectionID, err)
	}

	relay := *op
	relay.UserID = conn.UserID
	relay.Version = version
	m.dispatcher.BroadcastToDocument(documentID, protocol.NewEditBroadcast(&relay), connectionID)

	return nil
}

// Snapshot returns the read-only projection of a session.
func (m *SessionManager) Snapshot(documentID string) (*protocol.SyncResponsePayload, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[documentID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return sess.Snapshot(), true
}

// Recipients returns the member connection IDs of a document session,
// minus the excluded connection. It is the dispatcher's membership source.
func (m *SessionManager) Recipients(documentID, exclude string) []string {
	m.mu.RLock()
	sess, ok := m.sessions[documentID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return sess.recipients(exclude)
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SessionInfo is the admin-facing summary of one session.
type SessionInfo struct {
	DocumentID    string     `json:"documentId"`
	ParentID      string     `json:"parentId,omitempty"`
	UserCount     int        `json:"userCount"`
	Version       string     `json:"version"`
	LockHolder    string     `json:"lockHolder,omitempty"`
	LockExpiresAt *time.Time `json:"lockExpiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// List returns summaries of all active sessions, ordered by document ID.
func (m *SessionManager) List() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*DocumentSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		info := SessionInfo{
			DocumentID: sess.ID,
			ParentID:   sess.ParentID,
			UserCount:  sess.UserCount(),
			Version:    sess.Version(),
			CreatedAt:  sess.CreatedAt,
		}
		holder, expiresAt := sess.LockState()
		info.LockHolder = holder
		if !expiresAt.IsZero() {
			t := expiresAt
			info.LockExpiresAt = &t
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].DocumentID < infos[j].DocumentID })
	return infos
}

// ManagerStats contains aggregated session statistics.
type ManagerStats struct {
	Active         int
	TotalCreated   uint64
	TotalDestroyed uint64
	Peak           int
}

// Stats returns aggregated session statistics.
func (m *SessionManager) Stats() ManagerStats {
	m.mu.RLock()
	active := len(m.sessions)
	peak := m.peakSessions
	m.mu.RUnlock()

	return ManagerStats{
		Active:         active,
		TotalCreated:   m.totalCreated.Load(),
		TotalDestroyed: m.totalDestroyed.Load(),
		Peak:           peak,
	}
}

// lookup resolves a connection and session pair for the relay operations.
func (m *SessionManager) lookup(op, connectionID, documentID string) (*Connection, *DocumentSession, error) {
	conn, ok := m.registry.Get(connectionID)
	if !ok {
		return nil, nil, opError(op, documentID, connectionID, ErrUnknownConnection)
	}
	m.mu.RLock()
	sess, ok := m.sessions[documentID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, opError(op, documentID, connectionID, ErrSessionNotFound)
	}
	return conn, sess, nil
}
