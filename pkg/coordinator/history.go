package coordinator

import (
	"sync"
	"time"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// RouteRecord captures the outcome of one routed envelope.
type RouteRecord struct {
	MessageID    string               `json:"messageId"`
	Type         protocol.MessageType `json:"type"`
	ConnectionID string               `json:"connectionId"`
	UserID       string               `json:"userId"`
	DocumentID   string               `json:"documentId,omitempty"`
	Status       string               `json:"status"` // "ok" or the error code
	Error        string               `json:"error,omitempty"`
	At           time.Time            `json:"at"`
}

// RouteHistory is a thread-safe ring buffer of recent route records.
// It backs the admin envelope listing: the newest records win and the
// oldest are overwritten when the buffer is full.
type RouteHistory struct {
	mu       sync.RWMutex
	entries  []*RouteRecord
	head     int    // Next write position (circular)
	count    int    // Current number of entries
	capacity int    // Max entries
	total    uint64 // Records ever added
}

// NewRouteHistory creates a route history ring buffer with the given capacity.
func NewRouteHistory(capacity int) *RouteHistory {
	if capacity <= 0 {
		capacity = 256 // Default from Config.HistorySize
	}
	return &RouteHistory{
		entries:  make([]*RouteRecord, capacity),
		capacity: capacity,
	}
}

// Add stores a record, overwriting the oldest entry when full.
func (h *RouteHistory) Add(rec *RouteRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.head] = rec
	h.head = (h.head + 1) % h.capacity

	if h.count < h.capacity {
		h.count++
	}
	h.total++
}

// Recent returns up to limit records, newest first. A limit of 0 or
// above the buffer size returns everything buffered.
func (h *RouteHistory) Recent(limit int) []*RouteRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}

	records := make([]*RouteRecord, 0, n)
	for i := 0; i < n; i++ {
		// Walk backwards from the newest entry
		idx := (h.head - 1 - i + h.capacity) % h.capacity
		if h.entries[idx] != nil {
			records = append(records, h.entries[idx])
		}
	}
	return records
}

// Count returns the number of buffered records.
func (h *RouteHistory) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Total returns the number of records ever added.
func (h *RouteHistory) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Clear removes all buffered records.
func (h *RouteHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.entries {
		h.entries[i] = nil
	}
	h.head = 0
	h.count = 0
}
