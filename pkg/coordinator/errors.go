package coordinator

import (
	"errors"
	"fmt"
)

// Sentinel errors for coordinator operations.
var (
	// ErrDuplicateConnection is returned when registering a connection ID twice.
	ErrDuplicateConnection = errors.New("coordinator: duplicate connection")

	// ErrUnknownConnection is returned when an operation names a connection
	// that is not registered.
	ErrUnknownConnection = errors.New("coordinator: unknown connection")

	// ErrSessionNotFound is returned when a document ID has no active session.
	ErrSessionNotFound = errors.New("coordinator: session not found")

	// ErrNotInSession is returned when the caller has no presence in the
	// session it is operating on.
	ErrNotInSession = errors.New("coordinator: not joined to document")

	// ErrLockConflict is returned when acquiring or editing against an
	// unexpired lock lease.
	ErrLockConflict = errors.New("coordinator: document locked")

	// ErrNotLockHolder is returned when releasing a lock the caller does not hold.
	ErrNotLockHolder = errors.New("coordinator: not lock holder")

	// ErrPeerGone is returned when a send cannot be accepted because the
	// peer's connection is closed or its outbound queue is full.
	ErrPeerGone = errors.New("coordinator: peer gone")

	// ErrMaxConnectionsReached is returned when the connection limit is hit.
	ErrMaxConnectionsReached = errors.New("coordinator: max connections reached")

	// ErrShutdown is returned when an operation is attempted after Close.
	ErrShutdown = errors.New("coordinator: shut down")

	// ErrInternal is returned for unexpected handler failures, including
	// recovered panics. The detail stays in the logs.
	ErrInternal = errors.New("coordinator: internal error")
)

// OpError wraps an error with operation context for debugging.
type OpError struct {
	Op           string // Operation that failed
	DocumentID   string
	ConnectionID string
	Err          error // Underlying error
}

// Error returns the error message with operation context.
func (e *OpError) Error() string {
	switch {
	case e.DocumentID != "" && e.ConnectionID != "":
		return fmt.Sprintf("coordinator: %s: document %s: connection %s: %v", e.Op, e.DocumentID, e.ConnectionID, e.Err)
	case e.DocumentID != "":
		return fmt.Sprintf("coordinator: %s: document %s: %v", e.Op, e.DocumentID, e.Err)
	case e.ConnectionID != "":
		return fmt.Sprintf("coordinator: %s: connection %s: %v", e.Op, e.ConnectionID, e.Err)
	default:
		return fmt.Sprintf("coordinator: %s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, documentID, connectionID string, err error) *OpError {
	return &OpError{
		Op:           op,
		DocumentID:   documentID,
		ConnectionID: connectionID,
		Err:          err,
	}
}
