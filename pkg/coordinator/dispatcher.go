package coordinator

import (
	"log/slog"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// Peer is the transport half of a connection. Implementations must be
// safe for concurrent use and must not block: a send that cannot be
// accepted immediately reports the peer gone.
type Peer interface {
	// Send queues an envelope for delivery.
	Send(env *protocol.Envelope) error

	// Close tears the transport down. It is safe to call more than once.
	Close() error
}

// Dispatcher delivers envelopes to single peers, to all members of a
// document, or to all connections of a user. A peer whose send fails is
// treated as gone; fan-outs never abort on a dead peer, they finish the
// iteration and then hand the dead peers to the disconnect handler.
type Dispatcher struct {
	registry *Registry
	metrics  *MetricsCollector
	logger   *slog.Logger

	// members resolves a document's recipient connections, minus an
	// excluded one. Bound by the coordinator once the session manager
	// exists.
	members func(documentID, exclude string) []string

	// onPeerGone runs outside all locks for each dead peer found during
	// a fan-out.
	onPeerGone func(connectionID string)
}

// NewDispatcher creates a Dispatcher delivering to registry connections.
func NewDispatcher(registry *Registry, metrics *MetricsCollector, logger *slog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		metrics:  metrics,
		logger:   logger.With("component", "dispatcher"),
	}
}

// BindMembers sets the document membership source.
func (d *Dispatcher) BindMembers(fn func(documentID, exclude string) []string) {
	d.members = fn
}

// SetOnPeerGone sets the handler invoked for dead peers found during fan-out.
func (d *Dispatcher) SetOnPeerGone(fn func(connectionID string)) {
	d.onPeerGone = fn
}

// SendTo delivers an envelope to one connection. It returns ErrPeerGone
// when the connection is unknown or its peer cannot accept the send; the
// caller decides whether that triggers disconnect handling.
func (d *Dispatcher) SendTo(connectionID string, env *protocol.Envelope) error {
	conn, ok := d.registry.Get(connectionID)
	if !ok {
		d.metrics.RecordPeerGone()
		return opError("send", "", connectionID, ErrPeerGone)
	}
	if err := conn.peer.Send(env); err != nil {
		d.metrics.RecordPeerGone()
		return opError("send", "", connectionID, ErrPeerGone)
	}
	d.metrics.RecordDelivery()
	return nil
}

// BroadcastToDocument delivers an envelope to every member of a document
// session except the excluded connection. It returns the number of peers
// reached.
func (d *Dispatcher) BroadcastToDocument(documentID string, env *protocol.Envelope, exclude string) int {
	if d.members == nil {
		return 0
	}
	return d.deliver(d.members(documentID, exclude), env)
}

// BroadcastToUser delivers an envelope to every connection of a user.
func (d *Dispatcher) BroadcastToUser(userID string, env *protocol.Envelope) int {
	return d.deliver(d.registry.ConnectionsForUser(userID), env)
}

func (d *Dispatcher) deliver(ids []string, env *protocol.Envelope) int {
	var gone []string
	delivered := 0

	for _, id := range ids {
		conn, ok := d.registry.Get(id)
		if !ok {
			gone = append(gone, id)
			continue
		}
		if err := conn.peer.Send(env); err != nil {
			gone = append(gone, id)
			continue
		}
		delivered++
	}

	d.metrics.RecordBroadcast(delivered)

	// Dead peers are cleaned up only after every live peer got the
	// envelope, so one bad connection cannot stall the others.
	for _, id := range gone {
		d.metrics.RecordPeerGone()
		d.logger.Warn("peer gone during broadcast",
			"connection_id", id,
			"type", string(env.Type))
		if d.onPeerGone != nil {
			d.onPeerGone(id)
		}
	}

	return delivered
}
