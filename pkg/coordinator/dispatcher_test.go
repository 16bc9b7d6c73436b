package coordinator

import (
	"errors"
	"testing"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

func TestSendToUnknownConnection(t *testing.T) {
	c := newTestCoordinator(t, nil)

	err := c.Dispatcher().SendTo("conn-none", protocol.NewError(protocol.CodeInternal, "x"))
	if !errors.Is(err, ErrPeerGone) {
		t.Errorf("SendTo() error = %v, want ErrPeerGone", err)
	}
}

func TestBroadcastToUserMultiDevice(t *testing.T) {
	c := newTestCoordinator(t, nil)
	tab1 := connect(t, c, "conn-tab1", "alice")
	tab2 := connect(t, c, "conn-tab2", "alice")
	other := connect(t, c, "conn-b", "bob")

	env := protocol.NewError(protocol.CodeValidation, "ping")
	if delivered := c.Dispatcher().BroadcastToUser("alice", env); delivered != 2 {
		t.Errorf("BroadcastToUser() delivered %d, want 2", delivered)
	}
	if len(tab1.envelopes()) != 1 || len(tab2.envelopes()) != 1 {
		t.Error("not every device of the user was reached")
	}
	if len(other.envelopes()) != 0 {
		t.Error("broadcast to one user leaked to another")
	}
}

func TestBroadcastSurvivesDeadPeer(t *testing.T) {
	c := newTestCoordinator(t, nil)
	peerA := connect(t, c, "conn-a", "alice")
	peerB := connect(t, c, "conn-b", "bob")
	peerC := connect(t, c, "conn-c", "carol")
	join(t, c, "conn-a", "doc-1")
	join(t, c, "conn-b", "doc-1")
	join(t, c, "conn-c", "doc-1")
	peerA.reset()
	peerC.reset()

	// Bob's transport dies silently; the next fan-out detects it.
	peerB.setFail(true)

	env := protocol.NewUserPresence(&protocol.UserPresencePayload{
		DocumentID: "doc-1", Event: protocol.PresenceJoined, UserID: "dave",
	})
	delivered := c.Dispatcher().BroadcastToDocument("doc-1", env, "")
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2 (dead peer skipped, others reached)", delivered)
	}
	if len(peerA.envelopes()) == 0 || len(peerC.envelopes()) == 0 {
		t.Error("a live peer missed the broadcast because another peer died")
	}

	// The dead peer was torn down: registry entry gone, presence gone.
	if _, ok := c.Registry().Get("conn-b"); ok {
		t.Error("dead peer still registered after fan-out")
	}
	snap, ok := c.Sessions().Snapshot("doc-1")
	if !ok {
		t.Fatal("session destroyed with live members present")
	}
	for _, u := range snap.ActiveUsers {
		if u.UserID == "bob" {
			t.Error("dead peer's presence survived the cleanup")
		}
	}
}

func TestPeerGoneReleasesHeldLock(t *testing.T) {
	c := newTestCoordinator(t, nil)
	connect(t, c, "conn-a", "alice")
	peerB := connect(t, c, "conn-b", "bob")
	join(t, c, "conn-a", "doc-1")
	join(t, c, "conn-b", "doc-1")

	if _, err := c.Sessions().AcquireLock("conn-b", "doc-1", 0); err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	peerB.setFail(true)

	// Any fan-out that hits bob triggers his teardown, which must free
	// the lock he held.
	c.Dispatcher().BroadcastToDocument("doc-1", protocol.NewError(protocol.CodeInternal, "probe"), "")

	snap, _ := c.Sessions().Snapshot("doc-1")
	if snap.LockHolder != "" {
		t.Errorf("LockHolder = %q, want empty after peer-gone cleanup", snap.LockHolder)
	}
}

func TestBroadcastExcludesConnection(t *testing.T) {
	c := newTestCoordinator(t, nil)
	peerA := connect(t, c, "conn-a", "alice")
	peerB := connect(t, c, "conn-b", "bob")
	join(t, c, "conn-a", "doc-1")
	join(t, c, "conn-b", "doc-1")
	peerA.reset()
	peerB.reset()

	env := protocol.NewError(protocol.CodeInternal, "x")
	if delivered := c.Dispatcher().BroadcastToDocument("doc-1", env, "conn-a"); delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	if len(peerA.envelopes()) != 0 {
		t.Error("excluded connection received the broadcast")
	}
	if len(peerB.envelopes()) != 1 {
		t.Error("non-excluded connection missed the broadcast")
	}
}
