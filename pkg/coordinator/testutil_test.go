package coordinator

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// testLogger returns a logger that only surfaces errors, keeping test
// output readable.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakePeer captures everything sent to it. Setting fail makes every
// send report the peer gone.
type fakePeer struct {
	mu     sync.Mutex
	sent   []*protocol.Envelope
	fail   bool
	closed bool
}

func (p *fakePeer) Send(env *protocol.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail || p.closed {
		return ErrPeerGone
	}
	p.sent = append(p.sent, env)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// envelopes returns a copy of everything sent so far.
func (p *fakePeer) envelopes() []*protocol.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*protocol.Envelope, len(p.sent))
	copy(out, p.sent)
	return out
}

// byType returns the sent envelopes of one type.
func (p *fakePeer) byType(mt protocol.MessageType) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, env := range p.envelopes() {
		if env.Type == mt {
			out = append(out, env)
		}
	}
	return out
}

// lastOfType returns the most recent envelope of one type, or nil.
func (p *fakePeer) lastOfType(mt protocol.MessageType) *protocol.Envelope {
	envs := p.byType(mt)
	if len(envs) == 0 {
		return nil
	}
	return envs[len(envs)-1]
}

// reset drops everything captured so far.
func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

// decodePayload unmarshals an envelope payload into out, failing the
// test on error.
func decodePayload(t *testing.T, env *protocol.Envelope, out any) {
	t.Helper()
	if env == nil {
		t.Fatal("nil envelope")
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		t.Fatalf("unmarshal %s payload: %v", env.Type, err)
	}
}

// newTestCoordinator builds a coordinator with test defaults.
func newTestCoordinator(t *testing.T, cfg *Config) *Coordinator {
	t.Helper()
	c, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// connect registers a connection backed by a fresh fakePeer and clears
// the connect confirmation from the capture.
func connect(t *testing.T, c *Coordinator, connID, userID string) *fakePeer {
	t.Helper()
	peer := &fakePeer{}
	if _, err := c.Connect(connID, userID, userID, "127.0.0.1", peer); err != nil {
		t.Fatalf("Connect(%s) error = %v", connID, err)
	}
	peer.reset()
	return peer
}

// join enters a document and clears any presence broadcasts the join
// produced on the joiner's own peer.
func join(t *testing.T, c *Coordinator, connID, documentID string) {
	t.Helper()
	if _, err := c.Sessions().Join(connID, documentID, "matter-1"); err != nil {
		t.Fatalf("Join(%s, %s) error = %v", connID, documentID, err)
	}
}
