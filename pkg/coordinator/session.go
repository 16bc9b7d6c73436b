package coordinator

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// DocumentSession holds the live collaboration state for one document:
// who is present, the advisory lock lease, and the revision counter.
// Sessions are created on first join and destroyed on last leave, so a
// session always has at least one member except transiently inside the
// manager's lock.
//
// The session stores no document content. The revision counter tags
// snapshots so clients can tell a long-lived session from a recreated
// one; it starts at 0 and increments per accepted edit.
type DocumentSession struct {
	// ID is the document ID this session coordinates.
	ID string

	// ParentID is an optional grouping ID supplied by the first joiner.
	ParentID string

	// CreatedAt is when the first member joined.
	CreatedAt time.Time

	mu         sync.RWMutex
	users      map[string]*UserPresence // keyed by user ID
	revision   uint64
	lastSyncAt time.Time

	// Lock lease. Both fields are set together or empty together.
	lockHolder    string
	lockExpiresAt time.Time
}

func newDocumentSession(documentID, parentID string) *DocumentSession {
	now := time.Now().UTC()
	return &DocumentSession{
		ID:         documentID,
		ParentID:   parentID,
		CreatedAt:  now,
		users:      make(map[string]*UserPresence),
		lastSyncAt: now,
	}
}

// join inserts or replaces the presence for p.UserID and returns the
// snapshot the joiner should receive.
func (s *DocumentSession) join(p *UserPresence) *protocol.SyncResponsePayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[p.UserID] = p
	return s.snapshotLocked()
}

// leave removes the user's presence when it is owned by connectionID.
// A presence owned by another connection is left alone, which happens
// when the same user joined again from a newer connection.
//
// Reports whether a presence was removed, whether the session is now
// empty, and whether a lock held by the leaving user was cleared.
func (s *DocumentSession) leave(userID, connectionID string) (removed, empty, lockCleared bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[userID]
	if ok && p.ConnectionID == connectionID {
		delete(s.users, userID)
		removed = true
		if s.lockHolder == userID {
			s.lockHolder = ""
			s.lockExpiresAt = time.Time{}
			lockCleared = true
		}
	}
	empty = len(s.users) == 0
	return removed, empty, lockCleared
}

// updateCursor updates the caller's presence in place and refreshes its
// last-seen time. Reports false when the caller has no presence here.
func (s *DocumentSession) updateCursor(userID, connectionID string, position, selectionStart, selectionEnd int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[userID]
	if !ok || p.ConnectionID != connectionID {
		return false
	}

	p.Position = position
	p.SelectionStart = selectionStart
	p.SelectionEnd = selectionEnd
	p.LastSeenAt = time.Now().UTC()
	return true
}

// applyEdit accepts an edit from the caller, bumping the revision and
// refreshing the last-sync time. It fails with ErrLockConflict when an
// unexpired lease is held by a different user. A stale lease does not
// gate edits; it stays in place until an acquire or sweep clears it.
func (s *DocumentSession) applyEdit(userID, connectionID string, now time.Time) (version string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[userID]
	if !ok || p.ConnectionID != connectionID {
		return "", ErrNotInSession
	}

	if s.lockHolder != "" && s.lockHolder != userID && now.Before(s.lockExpiresAt) {
		return "", ErrLockConflict
	}

	s.revision++
	s.lastSyncAt = now.UTC()
	return s.versionLocked(), nil
}

// acquireLock grants the lease when the session is unlocked or the
// current lease is stale. Any unexpired lease, including the caller's
// own, fails with ErrLockConflict.
func (s *DocumentSession) acquireLock(userID, connectionID string, d time.Duration, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[userID]
	if !ok || p.ConnectionID != connectionID {
		return time.Time{}, ErrNotInSession
	}

	if s.lockHolder != "" && now.Before(s.lockExpiresAt) {
		return time.Time{}, ErrLockConflict
	}

	expiresAt := now.Add(d).UTC()
	s.lockHolder = userID
	s.lockExpiresAt = expiresAt
	return expiresAt, nil
}

// releaseLock clears the lease when userID holds it.
func (s *DocumentSession) releaseLock(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockHolder != userID || s.lockHolder == "" {
		return ErrNotLockHolder
	}

	s.lockHolder = ""
	s.lockExpiresAt = time.Time{}
	return nil
}

// sweepLock clears a stale lease and reports its former holder.
func (s *DocumentSession) sweepLock(now time.Time) (holder string, swept bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockHolder == "" || now.Before(s.lockExpiresAt) {
		return "", false
	}

	holder = s.lockHolder
	s.lockHolder = ""
	s.lockExpiresAt = time.Time{}
	return holder, true
}

// recipients returns the connection IDs of all members except exclude.
func (s *DocumentSession) recipients(exclude string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for _, p := range s.users {
		if p.ConnectionID == exclude {
			continue
		}
		ids = append(ids, p.ConnectionID)
	}
	return ids
}

// Snapshot returns the session's current wire-form state.
func (s *DocumentSession) Snapshot() *protocol.SyncResponsePayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// UserCount returns the number of members.
func (s *DocumentSession) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Version returns the current revision tag.
func (s *DocumentSession) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked()
}

// LockState returns the current lease holder and expiry. Both are zero
// when the session is unlocked.
func (s *DocumentSession) LockState() (holder string, expiresAt time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockHolder, s.lockExpiresAt
}

func (s *DocumentSession) snapshotLocked() *protocol.SyncResponsePayload {
	snap := &protocol.SyncResponsePayload{
		DocumentID: s.ID,
		ParentID:   s.ParentID,
		Version:    s.versionLocked(),
		LastSyncAt: s.lastSyncAt,
		LockHolder: s.lockHolder,
	}
	if !s.lockExpiresAt.IsZero() {
		t := s.lockExpiresAt
		snap.LockExpiresAt = &t
	}

	snap.ActiveUsers = make([]protocol.PresenceInfo, 0, len(s.users))
	for _, p := range s.users {
		snap.ActiveUsers = append(snap.ActiveUsers, p.info())
	}
	sort.Slice(snap.ActiveUsers, func(i, j int) bool {
		return snap.ActiveUsers[i].UserID < snap.ActiveUsers[j].UserID
	})

	return snap
}

func (s *DocumentSession) versionLocked() string {
	return strconv.FormatUint(s.revision, 10)
}
