package audit

import (
	"errors"
	"time"
)

// ErrClosed is returned when recording to a closed recorder.
var ErrClosed = errors.New("audit: recorder closed")

// Entry describes the outcome of one routed envelope.
type Entry struct {
	// MessageID is the server-assigned envelope ID.
	MessageID string `json:"messageId"`

	// Type is the envelope type, e.g. "document_edit".
	Type string `json:"type"`

	// ConnectionID identifies the originating connection.
	ConnectionID string `json:"connectionId"`

	// UserID is the authenticated user behind the connection.
	UserID string `json:"userId"`

	// DocumentID is the document the envelope targeted, if any.
	DocumentID string `json:"documentId,omitempty"`

	// Status is "ok" or the error code sent back to the originator.
	Status string `json:"status"`

	// Error holds the error message for non-ok entries.
	Error string `json:"error,omitempty"`

	// At is when the envelope finished routing. Zero means "now".
	At time.Time `json:"at"`
}

// Recorder is the interface for audit trail backends.
// Implement this interface to ship entries to S3, a database, or a broker.
type Recorder interface {
	// Record appends one entry to the trail.
	Record(e Entry) error

	// Close flushes and releases the backend.
	Close() error
}
