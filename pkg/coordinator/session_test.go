package coordinator

import (
	"errors"
	"testing"
	"time"
)

func TestSessionLockLifecycle(t *testing.T) {
	s := newDocumentSession("doc-1", "matter-1")
	s.join(newPresence("alice", "conn-a", "Alice"))
	s.join(newPresence("bob", "conn-b", "Bob"))

	now := time.Now()

	expiresAt, err := s.acquireLock("alice", "conn-a", 5*time.Minute, now)
	if err != nil {
		t.Fatalf("acquireLock(alice) error = %v", err)
	}
	if want := now.Add(5 * time.Minute).UTC(); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}

	// Unexpired lease blocks everyone, the holder included.
	if _, err := s.acquireLock("bob", "conn-b", time.Minute, now.Add(10*time.Second)); !errors.Is(err, ErrLockConflict) {
		t.Errorf("acquireLock(bob) error = %v, want ErrLockConflict", err)
	}
	if _, err := s.acquireLock("alice", "conn-a", time.Minute, now.Add(10*time.Second)); !errors.Is(err, ErrLockConflict) {
		t.Errorf("re-acquireLock(alice) error = %v, want ErrLockConflict", err)
	}

	holder, _ := s.LockState()
	if holder != "alice" {
		t.Errorf("holder = %q, want alice", holder)
	}

	// Non-holder release leaves the lease unchanged.
	if err := s.releaseLock("bob"); !errors.Is(err, ErrNotLockHolder) {
		t.Errorf("releaseLock(bob) error = %v, want ErrNotLockHolder", err)
	}
	if holder, _ := s.LockState(); holder != "alice" {
		t.Errorf("holder after failed release = %q, want alice", holder)
	}

	if err := s.releaseLock("alice"); err != nil {
		t.Fatalf("releaseLock(alice) error = %v", err)
	}
	holder, expiry := s.LockState()
	if holder != "" || !expiry.IsZero() {
		t.Errorf("lock state after release = (%q, %v), want empty", holder, expiry)
	}

	// Releasing an unlocked session is not a holder operation.
	if err := s.releaseLock("alice"); !errors.Is(err, ErrNotLockHolder) {
		t.Errorf("releaseLock on unlocked error = %v, want ErrNotLockHolder", err)
	}
}

func TestSessionStaleLeaseTakeover(t *testing.T) {
	s := newDocumentSession("doc-1", "")
	s.join(newPresence("alice", "conn-a", ""))
	s.join(newPresence("bob", "conn-b", ""))

	now := time.Now()
	if _, err := s.acquireLock("alice", "conn-a", time.Second, now); err != nil {
		t.Fatalf("acquireLock(alice) error = %v", err)
	}

	// One nanosecond short of expiry still conflicts; at expiry the lease
	// is stale and bob takes over.
	afterLease := now.Add(time.Second)
	if _, err := s.acquireLock("bob", "conn-b", time.Minute, afterLease.Add(-time.Nanosecond)); !errors.Is(err, ErrLockConflict) {
		t.Errorf("acquireLock before expiry error = %v, want ErrLockConflict", err)
	}
	if _, err := s.acquireLock("bob", "conn-b", time.Minute, afterLease); err != nil {
		t.Errorf("acquireLock at expiry error = %v", err)
	}
	if holder, _ := s.LockState(); holder != "bob" {
		t.Errorf("holder = %q, want bob", holder)
	}
}

func TestSessionSweepLock(t *testing.T) {
	s := newDocumentSession("doc-1", "")
	s.join(newPresence("alice", "conn-a", ""))

	now := time.Now()
	s.acquireLock("alice", "conn-a", time.Second, now)

	if _, swept := s.sweepLock(now.Add(500 * time.Millisecond)); swept {
		t.Error("sweepLock cleared an unexpired lease")
	}
	holder, swept := s.sweepLock(now.Add(2 * time.Second))
	if !swept || holder != "alice" {
		t.Errorf("sweepLock = (%q, %v), want (alice, true)", holder, swept)
	}
	// Idempotent.
	if _, swept := s.sweepLock(now.Add(2 * time.Second)); swept {
		t.Error("second sweepLock reported a clear")
	}
}

func TestSessionApplyEditLockGate(t *testing.T) {
	s := newDocumentSession("doc-1", "")
	s.join(newPresence("alice", "conn-a", ""))
	s.join(newPresence("bob", "conn-b", ""))

	now := time.Now()

	// Unlocked: anyone edits.
	if _, err := s.applyEdit("bob", "conn-b", now); err != nil {
		t.Fatalf("applyEdit unlocked error = %v", err)
	}

	s.acquireLock("alice", "conn-a", time.Minute, now)

	if _, err := s.applyEdit("bob", "conn-b", now.Add(time.Second)); !errors.Is(err, ErrLockConflict) {
		t.Errorf("applyEdit against lease error = %v, want ErrLockConflict", err)
	}
	version, err := s.applyEdit("alice", "conn-a", now.Add(time.Second))
	if err != nil {
		t.Fatalf("applyEdit by holder error = %v", err)
	}
	if version != "2" {
		t.Errorf("version = %q, want %q", version, "2")
	}

	// A stale lease does not gate edits.
	if _, err := s.applyEdit("bob", "conn-b", now.Add(2*time.Minute)); err != nil {
		t.Errorf("applyEdit past expiry error = %v", err)
	}

	if _, err := s.applyEdit("carol", "conn-c", now); !errors.Is(err, ErrNotInSession) {
		t.Errorf("applyEdit by non-member error = %v, want ErrNotInSession", err)
	}
}

func TestSessionLeaveClearsOwnLockOnly(t *testing.T) {
	s := newDocumentSession("doc-1", "")
	s.join(newPresence("alice", "conn-a", ""))
	s.join(newPresence("bob", "conn-b", ""))
	s.acquireLock("alice", "conn-a", time.Minute, time.Now())

	if _, _, lockCleared := s.leave("bob", "conn-b"); lockCleared {
		t.Error("bob's leave cleared alice's lock")
	}
	removed, empty, lockCleared := s.leave("alice", "conn-a")
	if !removed || !empty || !lockCleared {
		t.Errorf("leave(alice) = (%v, %v, %v), want (true, true, true)", removed, empty, lockCleared)
	}
}

func TestSessionLeaveIgnoresStalePresenceOwner(t *testing.T) {
	s := newDocumentSession("doc-1", "")
	s.join(newPresence("alice", "conn-old", ""))
	// Alice rejoins from a new tab; the presence record is replaced.
	s.join(newPresence("alice", "conn-new", ""))

	removed, empty, _ := s.leave("alice", "conn-old")
	if removed {
		t.Error("leave by the stale connection removed the new presence")
	}
	if empty {
		t.Error("session reported empty with alice still present")
	}
	if s.UserCount() != 1 {
		t.Errorf("UserCount() = %d, want 1", s.UserCount())
	}
}

func TestSessionCursorUpdate(t *testing.T) {
	s := newDocumentSession("doc-1", "")
	s.join(newPresence("alice", "conn-a", ""))

	if !s.updateCursor("alice", "conn-a", 42, 40, 50) {
		t.Fatal("updateCursor for member reported false")
	}
	if s.updateCursor("alice", "conn-other", 1, 0, 0) {
		t.Error("updateCursor honored the wrong connection")
	}
	if s.updateCursor("bob", "conn-b", 1, 0, 0) {
		t.Error("updateCursor honored a non-member")
	}

	snap := s.Snapshot()
	if len(snap.ActiveUsers) != 1 {
		t.Fatalf("ActiveUsers = %d, want 1", len(snap.ActiveUsers))
	}
	u := snap.ActiveUsers[0]
	if u.Position != 42 || u.SelectionStart != 40 || u.SelectionEnd != 50 {
		t.Errorf("cursor = (%d, %d, %d), want (42, 40, 50)", u.Position, u.SelectionStart, u.SelectionEnd)
	}
}

func TestSessionSnapshotOrdering(t *testing.T) {
	s := newDocumentSession("doc-1", "matter-9")
	s.join(newPresence("zoe", "conn-z", ""))
	s.join(newPresence("alice", "conn-a", ""))
	s.join(newPresence("mike", "conn-m", ""))

	snap := s.Snapshot()
	if snap.Version != "0" {
		t.Errorf("Version = %q, want %q", snap.Version, "0")
	}
	if snap.ParentID != "matter-9" {
		t.Errorf("ParentID = %q, want matter-9", snap.ParentID)
	}
	want := []string{"alice", "mike", "zoe"}
	for i, u := range snap.ActiveUsers {
		if u.UserID != want[i] {
			t.Errorf("ActiveUsers[%d] = %q, want %q", i, u.UserID, want[i])
		}
	}
}
