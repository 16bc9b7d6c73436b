package coordinator

import (
	"errors"
	"time"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// Lock lease coordination. Every document session carries at most one
// lease: Unlocked -> Locked(holder, expiresAt) -> Unlocked. The state
// itself lives on the session and mutates under the session lock, so
// lease transitions are atomic with presence changes.
//
// Expiry is reactive. A stale lease is taken over by the next acquire or
// cleared by SweepExpiredLocks; nothing here runs its own timer, the
// sweep is invoked from outside (admin endpoint, CLI, or an operator
// opt-in ticker in the serve command).

// AcquireLock grants the exclusive edit lease for a document to the
// calling connection's user. A non-positive duration uses the configured
// default; durations above the configured maximum are clamped. The grant
// is announced to every member, the requester included. An unexpired
// lease held by anyone, the caller included, fails with ErrLockConflict.
func (m *SessionManager) AcquireLock(connectionID, documentID string, duration time.Duration) (time.Time, error) {
	conn, sess, err := m.lookup("lock", connectionID, documentID)
	if err != nil {
		return time.Time{}, err
	}

	if duration <= 0 {
		duration = m.config.DefaultLockDuration
	}
	if duration > m.config.MaxLockDuration {
		duration = m.config.MaxLockDuration
	}

	expiresAt, err := sess.acquireLock(conn.UserID, connectionID, duration, time.Now())
	if err != nil {
		if errors.Is(err, ErrLockConflict) {
			m.metrics.RecordLockConflict()
		}
		return time.Time{}, opError("lock", documentID, connectionID, err)
	}

	m.metrics.RecordLockAcquired()
	m.logger.Info("lock acquired",
		"document_id", documentID,
		"user_id", conn.UserID,
		"expires_at", expiresAt)

	m.dispatcher.BroadcastToDocument(documentID,
		protocol.NewLockBroadcast(documentID, conn.UserID, expiresAt), "")

	return expiresAt, nil
}

// ReleaseLock releases the lease when the calling connection's user holds
// it; anyone else fails with ErrNotLockHolder and the lease is untouched.
// The release is announced to every member with reason "released".
func (m *SessionManager) ReleaseLock(connectionID, documentID string) error {
	conn, sess, err := m.lookup("unlock", connectionID, documentID)
	if err != nil {
		return err
	}

	if err := sess.releaseLock(conn.UserID); err != nil {
		return opError("unlock", documentID, connectionID, err)
	}

	m.metrics.RecordLockReleased()
	m.logger.Info("lock released",
		"document_id", documentID,
		"user_id", conn.UserID)

	m.dispatcher.BroadcastToDocument(documentID,
		protocol.NewUnlockBroadcast(documentID, conn.UserID, protocol.UnlockReleased), "")

	return nil
}

// SweepExpiredLocks scans every session and clears leases whose expiry
// has passed, announcing each with reason "expired" and the previous
// holder. The sweep is idempotent and safe to invoke at any time; it
// returns the number of leases cleared.
func (m *SessionManager) SweepExpiredLocks() int {
	now := time.Now()

	m.mu.RLock()
	sessions := make([]*DocumentSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	swept := 0
	for _, sess := range sessions {
		holder, ok := sess.sweepLock(now)
		if !ok {
			continue
		}
		swept++
		m.logger.Info("lock expired",
			"document_id", sess.ID,
			"user_id", holder)
		m.dispatcher.BroadcastToDocument(sess.ID,
			protocol.NewUnlockBroadcast(sess.ID, holder, protocol.UnlockExpired), "")
	}

	if swept > 0 {
		m.metrics.RecordLocksExpired(swept)
	}
	return swept
}
