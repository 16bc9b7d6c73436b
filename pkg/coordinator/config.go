package coordinator

import (
	"fmt"
	"time"

	"github.com/syncroom-dev/syncroom/pkg/audit"
)

// Config holds configuration for the coordinator.
type Config struct {
	// Locks

	// DefaultLockDuration is the lease duration used when a lock request
	// does not name one.
	// Default: 300 seconds.
	DefaultLockDuration time.Duration

	// MaxLockDuration caps the lease duration a client may request.
	// Requests above the cap are clamped, not rejected.
	// Default: 1 hour.
	MaxLockDuration time.Duration

	// History

	// HistorySize is the number of recent route records kept in memory
	// for the admin API.
	// Default: 256.
	HistorySize int

	// Limits

	// MaxConnections is the maximum number of concurrent connections.
	// 0 means no limit.
	// Default: 0 (no limit).
	MaxConnections int

	// Audit

	// Recorder receives one entry per routed envelope.
	// Default: nil (audit disabled).
	Recorder audit.Recorder
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultLockDuration: 300 * time.Second,
		MaxLockDuration:     time.Hour,
		HistorySize:         256,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.DefaultLockDuration <= 0 {
		return fmt.Errorf("coordinator: DefaultLockDuration must be positive, got %v", c.DefaultLockDuration)
	}
	if c.MaxLockDuration < c.DefaultLockDuration {
		return fmt.Errorf("coordinator: MaxLockDuration %v is below DefaultLockDuration %v", c.MaxLockDuration, c.DefaultLockDuration)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("coordinator: HistorySize must not be negative, got %d", c.HistorySize)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("coordinator: MaxConnections must not be negative, got %d", c.MaxConnections)
	}
	return nil
}
