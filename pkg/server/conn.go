package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncroom-dev/syncroom/pkg/coordinator"
	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// wsConn adapts one gorilla connection to the coordinator's Peer
// interface. All writes go through the send queue and a single writer
// goroutine; Send never blocks and never touches the socket itself.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	config *Config
	logger *slog.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newWSConn(id string, ws *websocket.Conn, config *Config, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:     id,
		ws:     ws,
		config: config,
		logger: logger,
		send:   make(chan []byte, config.SendQueueSize),
		done:   make(chan struct{}),
	}
}

// Send queues an envelope for delivery. A closed connection or a full
// queue reports the peer as gone; the caller decides what to tear down.
func (c *wsConn) Send(env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return coordinator.ErrPeerGone
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return coordinator.ErrPeerGone
	default:
		// Queue full: the client is not draining. Treat it as gone
		// rather than block a fan-out on one slow reader.
		return coordinator.ErrPeerGone
	}
}

// Close stops the writer. Safe to call more than once; the writer sends
// the close frame and closes the socket on its way out.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// writeLoop drains the send queue and emits heartbeat pings. It is the
// only goroutine that writes to the socket.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write error", "connection_id", c.id, "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			// Flush nothing; say goodbye and drop the socket. The read
			// loop unblocks on the closed socket.
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
