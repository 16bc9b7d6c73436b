package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/syncroom-dev/syncroom/pkg/coordinator"
)

// Server is the WebSocket transport edge. It authenticates upgrade
// requests, registers connections with the coordinator, and runs the
// read/write pumps. Everything after the upgrade is the coordinator's
// business; the server never interprets envelopes.
type Server struct {
	config         *Config
	coord          *coordinator.Coordinator
	upgrader       websocket.Upgrader
	trustedProxies *proxyMatcher
	logger         *slog.Logger
}

// New creates a Server over the given coordinator.
func New(coord *coordinator.Coordinator, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()
	}

	defaults := DefaultConfig()
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = defaults.ReadBufferSize
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = defaults.WriteBufferSize
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = defaults.CheckOrigin
	}
	if config.ReadLimit == 0 {
		config.ReadLimit = defaults.ReadLimit
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.PingInterval == 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.SendQueueSize == 0 {
		config.SendQueueSize = defaults.SendQueueSize
	}
	if config.Authenticate == nil {
		config.Authenticate = defaults.Authenticate
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger.With("component", "server")

	return &Server{
		config: config,
		coord:  coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		trustedProxies: newProxyMatcher(config.TrustedProxies, logger),
		logger:         logger,
	}, nil
}

// Config returns the effective configuration.
func (s *Server) Config() *Config {
	return s.config
}

// ServeHTTP handles the WebSocket upgrade and runs the connection until
// it dies. Authentication happens before the upgrade so refusals are
// plain HTTP status codes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, displayName, err := s.config.Authenticate(r)
	if err != nil {
		s.logger.Warn("upgrade refused",
			"remote_addr", r.RemoteAddr,
			"error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Warn("upgrade failed",
			"remote_addr", r.RemoteAddr,
			"error", err)
		return
	}

	connectionID := uuid.NewString()
	conn := newWSConn(connectionID, ws, s.config, s.logger)

	go conn.writeLoop()

	if _, err := s.coord.Connect(connectionID, userID, displayName, s.clientIP(r), conn); err != nil {
		s.logger.Warn("connect refused",
			"connection_id", connectionID,
			"user_id", userID,
			"error", err)
		conn.Close()
		return
	}

	s.logger.Info("connection established",
		"connection_id", connectionID,
		"user_id", userID,
		"remote_addr", r.RemoteAddr)

	s.readLoop(r, connectionID, conn, ws)
}

// readLoop reads frames until the connection dies, routing each one
// synchronously. Frame ordering per connection is the read loop's
// ordering; there is no per-message goroutine.
func (s *Server) readLoop(r *http.Request, connectionID string, conn *wsConn, ws *websocket.Conn) {
	defer func() {
		conn.Close()
		s.coord.Disconnect(connectionID)
	}()

	ws.SetReadLimit(s.config.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Warn("read error",
					"connection_id", connectionID,
					"error", err)
			}
			return
		}

		ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		s.coord.Route(r.Context(), connectionID, msg)
	}
}
