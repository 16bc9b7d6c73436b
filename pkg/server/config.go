package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// AuthenticateFunc resolves the user behind an upgrade request. Returning
// an error refuses the upgrade with 401.
type AuthenticateFunc func(r *http.Request) (userID, displayName string, err error)

// Config configures the WebSocket transport edge.
type Config struct {
	// Path is the WebSocket endpoint path (default: "/ws").
	Path string

	// ReadBufferSize is the WebSocket read buffer size.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	WriteBufferSize int

	// CheckOrigin validates the request origin during the upgrade.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// ReadLimit is the maximum size of an incoming WebSocket message.
	ReadLimit int64

	// ReadTimeout is the maximum time to wait for a message from the
	// client. Refreshed on every read and every pong.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	WriteTimeout time.Duration

	// PingInterval is the time between heartbeat pings. Must be shorter
	// than ReadTimeout or idle connections die between pings.
	PingInterval time.Duration

	// SendQueueSize is the per-connection outbound queue depth. A peer
	// whose queue overflows is treated as gone.
	SendQueueSize int

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers
	// are honored when resolving the client IP.
	TrustedProxies []string

	// Authenticate resolves the user behind the upgrade request.
	// Default: user_id/display_name query params, then
	// X-User-ID/X-Display-Name headers.
	Authenticate AuthenticateFunc

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:            "/ws",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     SameOriginCheck,
		ReadLimit:       64 * 1024,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		SendQueueSize:   256,
		Authenticate:    DefaultAuthenticate,
	}
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	return &clone
}

// Validate checks the config for nonsensical values.
func (c *Config) Validate() error {
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("server: ReadTimeout must be positive, got %v", c.ReadTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("server: WriteTimeout must be positive, got %v", c.WriteTimeout)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("server: PingInterval must be positive, got %v", c.PingInterval)
	}
	if c.PingInterval >= c.ReadTimeout {
		return fmt.Errorf("server: PingInterval %v must be shorter than ReadTimeout %v", c.PingInterval, c.ReadTimeout)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("server: SendQueueSize must be positive, got %d", c.SendQueueSize)
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("server: ReadLimit must be positive, got %d", c.ReadLimit)
	}
	return nil
}

// SameOriginCheck validates that the WebSocket request origin matches the
// request host. Requests without an Origin header (curl, same-origin) pass.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	// Compare the host portion (includes port if present)
	return originURL.Host == host
}

// DefaultAuthenticate reads the user from user_id/display_name query
// params, falling back to X-User-ID/X-Display-Name headers. A missing
// user ID refuses the upgrade; a missing display name falls back to the
// user ID.
func DefaultAuthenticate(r *http.Request) (string, string, error) {
	query := r.URL.Query()

	userID := query.Get("user_id")
	displayName := query.Get("display_name")

	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if displayName == "" {
		displayName = r.Header.Get("X-Display-Name")
	}

	if userID == "" {
		return "", "", fmt.Errorf("server: missing user identity")
	}
	if displayName == "" {
		displayName = userID
	}
	return userID, displayName, nil
}
