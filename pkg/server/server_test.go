package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncroom-dev/syncroom/pkg/coordinator"
	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestServer(t *testing.T) (*httptest.Server, *coordinator.Coordinator) {
	t.Helper()

	coord, err := coordinator.New(coordinator.DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	t.Cleanup(func() { coord.Close() })

	config := DefaultConfig()
	config.Logger = testLogger()
	config.CheckOrigin = func(*http.Request) bool { return true }
	srv, err := New(coord, config)
	if err != nil {
		t.Fatalf("server: %v", err)
	}

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, coord
}

func wsURL(ts *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(ts.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, query), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) *protocol.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.Decode(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func readUntil(t *testing.T, ws *websocket.Conn, mt protocol.MessageType) *protocol.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := readEnvelope(t, ws)
		if env.Type == mt {
			return env
		}
	}
	t.Fatalf("never received %s", mt)
	return nil
}

func sendEnvelope(t *testing.T, ws *websocket.Conn, mt protocol.MessageType, payload any) {
	t.Helper()
	env, err := protocol.New(mt, payload)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestUpgradeRequiresIdentity(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status=%d, want 401", resp.StatusCode)
	}
}

func TestConnectConfirmation(t *testing.T) {
	ts, coord := newTestServer(t)

	ws := dial(t, ts, "user_id=alice&display_name=Alice")

	env := readEnvelope(t, ws)
	if env.Type != protocol.MessageConnect {
		t.Fatalf("first envelope type=%s, want connect", env.Type)
	}
	var p protocol.ConnectPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.UserID != "alice" || p.DisplayName != "Alice" {
		t.Errorf("payload=%+v, want alice/Alice", p)
	}
	if p.ConnectionID == "" {
		t.Error("expected a minted connection id")
	}
	if got := coord.Registry().Count(); got != 1 {
		t.Errorf("registry count=%d, want 1", got)
	}
}

func TestHeaderAuthentication(t *testing.T) {
	ts, _ := newTestServer(t)

	header := http.Header{}
	header.Set("X-User-ID", "bob")
	header.Set("X-Display-Name", "Bob")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	env := readEnvelope(t, ws)
	var p protocol.ConnectPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.UserID != "bob" {
		t.Errorf("userId=%q, want bob", p.UserID)
	}
}

func TestJoinEditBroadcastEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dial(t, ts, "user_id=alice&display_name=Alice")
	bob := dial(t, ts, "user_id=bob&display_name=Bob")
	readEnvelope(t, alice) // connect confirmation
	readEnvelope(t, bob)

	sendEnvelope(t, alice, protocol.MessageJoinDocument, &protocol.JoinDocumentPayload{
		DocumentID: "doc-1", ParentID: "matter-1",
	})
	sync := readUntil(t, alice, protocol.MessageSyncResponse)
	var sp protocol.SyncResponsePayload
	if err := json.Unmarshal(sync.Payload, &sp); err != nil {
		t.Fatalf("sync payload: %v", err)
	}
	if sp.DocumentID != "doc-1" || len(sp.ActiveUsers) != 1 {
		t.Errorf("sync=%+v, want doc-1 with 1 active user", sp)
	}

	sendEnvelope(t, bob, protocol.MessageJoinDocument, &protocol.JoinDocumentPayload{
		DocumentID: "doc-1", ParentID: "matter-1",
	})
	readUntil(t, bob, protocol.MessageSyncResponse)

	// Alice learns of Bob's arrival
	presence := readUntil(t, alice, protocol.MessageUserPresence)
	var pp protocol.UserPresencePayload
	if err := json.Unmarshal(presence.Payload, &pp); err != nil {
		t.Fatalf("presence payload: %v", err)
	}
	if pp.UserID != "bob" || pp.Event != protocol.PresenceJoined {
		t.Errorf("presence=%+v, want bob joined", pp)
	}

	// Alice edits; Bob receives the relay with userId and version filled
	sendEnvelope(t, alice, protocol.MessageDocumentEdit, &protocol.DocumentEditPayload{
		DocumentID: "doc-1", Operation: protocol.OpInsert, Position: 5, Content: "hi",
	})
	edit := readUntil(t, bob, protocol.MessageDocumentEdit)
	var ep protocol.DocumentEditPayload
	if err := json.Unmarshal(edit.Payload, &ep); err != nil {
		t.Fatalf("edit payload: %v", err)
	}
	if ep.UserID != "alice" {
		t.Errorf("edit userId=%q, want alice", ep.UserID)
	}
	if ep.Version != "1" {
		t.Errorf("edit version=%q, want 1", ep.Version)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	ts, coord := newTestServer(t)

	alice := dial(t, ts, "user_id=alice")
	bob := dial(t, ts, "user_id=bob")
	readEnvelope(t, alice)
	readEnvelope(t, bob)

	sendEnvelope(t, alice, protocol.MessageJoinDocument, &protocol.JoinDocumentPayload{DocumentID: "doc-1"})
	readUntil(t, alice, protocol.MessageSyncResponse)
	sendEnvelope(t, bob, protocol.MessageJoinDocument, &protocol.JoinDocumentPayload{DocumentID: "doc-1"})
	readUntil(t, bob, protocol.MessageSyncResponse)

	alice.Close()

	// Bob sees alice leave
	for i := 0; i < 10; i++ {
		env := readUntil(t, bob, protocol.MessageUserPresence)
		var pp protocol.UserPresencePayload
		if err := json.Unmarshal(env.Payload, &pp); err != nil {
			t.Fatalf("presence payload: %v", err)
		}
		if pp.Event == protocol.PresenceLeft && pp.UserID == "alice" {
			break
		}
		if i == 9 {
			t.Fatal("never saw alice leave")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for coord.Registry().Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("registry count=%d, want 1", coord.Registry().Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	ts, _ := newTestServer(t)

	ws := dial(t, ts, "user_id=alice")
	readEnvelope(t, ws)

	ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readUntil(t, ws, protocol.MessageError)
	var ep protocol.ErrorPayload
	if err := json.Unmarshal(env.Payload, &ep); err != nil {
		t.Fatalf("error payload: %v", err)
	}
	if ep.Code != protocol.CodeValidation {
		t.Errorf("code=%s, want %s", ep.Code, protocol.CodeValidation)
	}
}

func TestServerDefaultsFill(t *testing.T) {
	coord, err := coordinator.New(coordinator.DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	defer coord.Close()

	srv, err := New(coord, &Config{Logger: testLogger()})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	if srv.Config().Path != "/ws" {
		t.Errorf("Path=%q, want /ws", srv.Config().Path)
	}
	if srv.Config().SendQueueSize != 256 {
		t.Errorf("SendQueueSize=%d, want 256", srv.Config().SendQueueSize)
	}

	if _, err := New(coord, &Config{ReadTimeout: -time.Second, Logger: testLogger()}); err == nil {
		t.Error("expected invalid config to be rejected")
	}
}
