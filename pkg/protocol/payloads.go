package protocol

import (
	"fmt"
	"time"
)

// Payload is implemented by all typed message payloads.
type Payload interface {
	Validate() error
}

// FieldError reports a missing or invalid payload field.
type FieldError struct {
	Field  string
	Reason string
}

// Error returns the error message.
func (e *FieldError) Error() string {
	return fmt.Sprintf("protocol: field %q: %s", e.Field, e.Reason)
}

func missingField(name string) error {
	return &FieldError{Field: name, Reason: "required"}
}

// EditOperation identifies the kind of edit in a document_edit message.
type EditOperation string

const (
	OpInsert  EditOperation = "insert"
	OpDelete  EditOperation = "delete"
	OpReplace EditOperation = "replace"
)

// Valid reports whether op is a known edit operation.
func (op EditOperation) Valid() bool {
	switch op {
	case OpInsert, OpDelete, OpReplace:
		return true
	default:
		return false
	}
}

// UnlockReason explains why a document_unlock broadcast was sent.
type UnlockReason string

const (
	UnlockReleased     UnlockReason = "released"
	UnlockExpired      UnlockReason = "expired"
	UnlockDisconnected UnlockReason = "disconnected"
)

// PresenceEvent distinguishes user_presence broadcasts.
type PresenceEvent string

const (
	PresenceJoined PresenceEvent = "joined"
	PresenceLeft   PresenceEvent = "left"
)

// ConnectPayload is sent by the server once a connection is registered.
type ConnectPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName,omitempty"`
}

// Validate implements Payload.
func (p *ConnectPayload) Validate() error {
	if p.ConnectionID == "" {
		return missingField("connectionId")
	}
	return nil
}

// DisconnectPayload is a client-initiated graceful disconnect.
type DisconnectPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Validate implements Payload.
func (p *DisconnectPayload) Validate() error { return nil }

// JoinDocumentPayload enters a document session.
type JoinDocumentPayload struct {
	DocumentID string `json:"documentId"`
	ParentID   string `json:"parentId,omitempty"`
}

// Validate implements Payload.
func (p *JoinDocumentPayload) Validate() error {
	if p.DocumentID == "" {
		return missingField("documentId")
	}
	return nil
}

// LeaveDocumentPayload exits a document session.
type LeaveDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

// Validate implements Payload.
func (p *LeaveDocumentPayload) Validate() error {
	if p.DocumentID == "" {
		return missingField("documentId")
	}
	return nil
}

// DocumentEditPayload relays one edit operation. The coordinator never
// applies the operation to document content; it validates lock state and
// fans the operation out verbatim. UserID and Version are filled in by the
// server on relay.
type DocumentEditPayload struct {
	DocumentID string        `json:"documentId"`
	Operation  EditOperation `json:"operation"`
	Position   int           `json:"position"`
	Content    string        `json:"content,omitempty"`
	Length     int           `json:"length,omitempty"`
	UserID     string        `json:"userId,omitempty"`
	Version    string        `json:"version,omitempty"`
}

// Validate implements Payload.
func (p *DocumentEditPayload) Validate() error {
	if p.DocumentID == "" {
		return missingField("documentId")
	}
	if !p.Operation.Valid() {
		return &FieldError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", string(p.Operation))}
	}
	if p.Position < 0 {
		return &FieldError{Field: "position", Reason: "must not be negative"}
	}
	if p.Length < 0 {
		return &FieldError{Field: "length", Reason: "must not be negative"}
	}
	switch p.Operation {
	case OpInsert, OpReplace:
		if p.Content == "" {
			return missingField("content")
		}
	case OpDelete:
		if p.Length == 0 {
			return missingField("length")
		}
	}
	return nil
}

// CursorPositionPayload updates cursor and selection state. UserID is
// filled in by the server on relay.
type CursorPositionPayload struct {
	DocumentID     string `json:"documentId"`
	Position       int    `json:"position"`
	SelectionStart int    `json:"selectionStart,omitempty"`
	SelectionEnd   int    `json:"selectionEnd,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

// Validate implements Payload.
func (p *CursorPositionPayload) Validate() error {
	if p.DocumentID == "" {
		return missingField("documentId")
	}
	if p.Position < 0 {
		return &FieldError{Field: "position", Reason: "must not be negative"}
	}
	if p.SelectionStart < 0 || p.SelectionEnd < 0 {
		return &FieldError{Field: "selection", Reason: "must not be negative"}
	}
	if p.SelectionEnd < p.SelectionStart {
		return &FieldError{Field: "selectionEnd", Reason: "must not precede selectionStart"}
	}
	return nil
}

// DocumentLockPayload requests the exclusive edit lease. On the lock-acquired
// broadcast the server fills UserID and ExpiresAt.
type DocumentLockPayload struct {
	DocumentID          string     `json:"documentId"`
	LockDurationSeconds int        `json:"lockDurationSeconds,omitempty"`
	UserID              string     `json:"userId,omitempty"`
	ExpiresAt           *time.Time `json:"expiresAt,omitempty"`
}

// Validate implements Payload.
func (p *DocumentLockPayload) Validate() error {
	if p.DocumentID == "" {
		return missingField("documentId")
	}
	if p.LockDurationSeconds < 0 {
		return &FieldError{Field: "lockDurationSeconds", Reason: "must not be negative"}
	}
	return nil
}

// DocumentUnlockPayload releases the exclusive edit lease. On the unlock
// broadcast the server fills UserID (the previous holder) and Reason.
type DocumentUnlockPayload struct {
	DocumentID string       `json:"documentId"`
	UserID     string       `json:"userId,omitempty"`
	Reason     UnlockReason `json:"reason,omitempty"`
}

// Validate implements Payload.
func (p *DocumentUnlockPayload) Validate() error {
	if p.DocumentID == "" {
		return missingField("documentId")
	}
	return nil
}

// SyncRequestPayload asks for the current session snapshot.
type SyncRequestPayload struct {
	DocumentID string `json:"documentId"`
}

// Validate implements Payload.
func (p *SyncRequestPayload) Validate() error {
	if p.DocumentID == "" {
		return missingField("documentId")
	}
	return nil
}

// PresenceInfo is the wire form of one user's presence in a session.
type PresenceInfo struct {
	UserID         string    `json:"userId"`
	ConnectionID   string    `json:"connectionId"`
	DisplayName    string    `json:"displayName,omitempty"`
	Color          string    `json:"color"`
	Position       int       `json:"position"`
	SelectionStart int       `json:"selectionStart,omitempty"`
	SelectionEnd   int       `json:"selectionEnd,omitempty"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
}

// SyncResponsePayload is the session snapshot sent as join confirmation and
// in reply to sync_request.
type SyncResponsePayload struct {
	DocumentID    string         `json:"documentId"`
	ParentID      string         `json:"parentId,omitempty"`
	Version       string         `json:"version"`
	LastSyncAt    time.Time      `json:"lastSyncAt"`
	ActiveUsers   []PresenceInfo `json:"activeUsers"`
	LockHolder    string         `json:"lockHolder,omitempty"`
	LockExpiresAt *time.Time     `json:"lockExpiresAt,omitempty"`
}

// Validate implements Payload.
func (p *SyncResponsePayload) Validate() error {
	if p.DocumentID == "" {
		return missingField("documentId")
	}
	return nil
}

// UserPresencePayload announces a user joining or leaving a session.
// User is carried on joined events only.
type UserPresencePayload struct {
	DocumentID string        `json:"documentId"`
	Event      PresenceEvent `json:"event"`
	UserID     string        `json:"userId"`
	User       *PresenceInfo `json:"user,omitempty"`
}

// Validate implements Payload.
func (p *UserPresencePayload) Validate() error {
	if p.DocumentID == "" {
		return missingField("documentId")
	}
	if p.UserID == "" {
		return missingField("userId")
	}
	return nil
}

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeValidation      ErrorCode = "validation_error"
	CodeLockConflict    ErrorCode = "lock_conflict"
	CodeNotLockHolder   ErrorCode = "not_lock_holder"
	CodeSessionNotFound ErrorCode = "session_not_found"
	CodeInternal        ErrorCode = "internal_error"
)

// ErrorPayload reports a failed request to the originating connection.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Validate implements Payload.
func (p *ErrorPayload) Validate() error {
	if p.Code == "" {
		return missingField("code")
	}
	return nil
}

// Error implements the error interface.
func (p *ErrorPayload) Error() string {
	return string(p.Code) + ": " + p.Message
}

// Outbound envelope builders. These take payload types owned by this
// package, so construction cannot fail.

// NewError builds an error envelope.
func NewError(code ErrorCode, message string) *Envelope {
	return mustNew(MessageError, &ErrorPayload{Code: code, Message: message})
}

// NewConnected builds the connection-accepted envelope.
func NewConnected(connectionID, userID, displayName string) *Envelope {
	return mustNew(MessageConnect, &ConnectPayload{
		ConnectionID: connectionID,
		UserID:       userID,
		DisplayName:  displayName,
	})
}

// NewSyncResponse builds a session snapshot envelope.
func NewSyncResponse(p *SyncResponsePayload) *Envelope {
	return mustNew(MessageSyncResponse, p)
}

// NewUserPresence builds a presence joined/left broadcast.
func NewUserPresence(p *UserPresencePayload) *Envelope {
	return mustNew(MessageUserPresence, p)
}

// NewCursorBroadcast builds the relayed form of a cursor update.
func NewCursorBroadcast(p *CursorPositionPayload) *Envelope {
	return mustNew(MessageCursorPosition, p)
}

// NewEditBroadcast builds the relayed form of an edit operation.
func NewEditBroadcast(p *DocumentEditPayload) *Envelope {
	return mustNew(MessageDocumentEdit, p)
}

// NewLockBroadcast builds the lock-acquired broadcast.
func NewLockBroadcast(documentID, userID string, expiresAt time.Time) *Envelope {
	return mustNew(MessageDocumentLock, &DocumentLockPayload{
		DocumentID: documentID,
		UserID:     userID,
		ExpiresAt:  &expiresAt,
	})
}

// NewUnlockBroadcast builds the unlock broadcast with the previous holder
// and the reason the lease ended.
func NewUnlockBroadcast(documentID, userID string, reason UnlockReason) *Envelope {
	return mustNew(MessageDocumentUnlock, &DocumentUnlockPayload{
		DocumentID: documentID,
		UserID:     userID,
		Reason:     reason,
	})
}
