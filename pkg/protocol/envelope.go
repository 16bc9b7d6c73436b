package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the type of envelope.
type MessageType string

const (
	MessageConnect        MessageType = "connect"
	MessageDisconnect     MessageType = "disconnect"
	MessageJoinDocument   MessageType = "join_document"
	MessageLeaveDocument  MessageType = "leave_document"
	MessageDocumentEdit   MessageType = "document_edit"
	MessageCursorPosition MessageType = "cursor_position"
	MessageUserPresence   MessageType = "user_presence"
	MessageDocumentLock   MessageType = "document_lock"
	MessageDocumentUnlock MessageType = "document_unlock"
	MessageSyncRequest    MessageType = "sync_request"
	MessageSyncResponse   MessageType = "sync_response"
	MessageError          MessageType = "error"
)

// Valid reports whether mt is a known message type.
func (mt MessageType) Valid() bool {
	switch mt {
	case MessageConnect, MessageDisconnect, MessageJoinDocument,
		MessageLeaveDocument, MessageDocumentEdit, MessageCursorPosition,
		MessageUserPresence, MessageDocumentLock, MessageDocumentUnlock,
		MessageSyncRequest, MessageSyncResponse, MessageError:
		return true
	default:
		return false
	}
}

// ClientInitiated reports whether clients may send this type.
// The remaining types are generated by the server only.
func (mt MessageType) ClientInitiated() bool {
	switch mt {
	case MessageDisconnect, MessageJoinDocument, MessageLeaveDocument,
		MessageDocumentEdit, MessageCursorPosition, MessageDocumentLock,
		MessageDocumentUnlock, MessageSyncRequest:
		return true
	default:
		return false
	}
}

// String returns the wire name of the message type.
func (mt MessageType) String() string {
	return string(mt)
}

// Envelope errors.
var (
	ErrEmptyMessage      = errors.New("protocol: empty message")
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")
	ErrUnknownType       = errors.New("protocol: unknown message type")
	ErrServerOnlyType    = errors.New("protocol: server-generated message type")
)

// Envelope is the typed wire message exchanged with clients.
//
// ID is generated when the envelope is created (or assigned at decode when
// the sender omitted it) and exists for tracing and audit, not dedup.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New creates an envelope of the given type with a fresh message id and
// timestamp. The payload is marshaled to JSON; a nil payload is allowed.
func New(mt MessageType, payload any) (*Envelope, error) {
	env := &Envelope{
		Type:      mt,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", mt, err)
		}
		env.Payload = data
	}
	return env, nil
}

// mustNew builds an envelope from a payload type owned by this package.
// Marshaling such payloads cannot fail.
func mustNew(mt MessageType, payload any) *Envelope {
	env, err := New(mt, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode parses raw bytes into an Envelope and validates the type.
// A missing message id or timestamp is assigned during decode so the
// audit trail stays complete for sloppy senders.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(env.Type))
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	return &env, nil
}

// Encode serializes the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ParsePayload decodes and validates the payload for the envelope's type.
// It returns one of the payload structs defined in this package. Types that
// only the server may send are rejected with ErrServerOnlyType.
func (e *Envelope) ParsePayload() (Payload, error) {
	if !e.Type.ClientInitiated() {
		return nil, fmt.Errorf("%w: %q", ErrServerOnlyType, string(e.Type))
	}

	var p Payload
	switch e.Type {
	case MessageDisconnect:
		p = &DisconnectPayload{}
	case MessageJoinDocument:
		p = &JoinDocumentPayload{}
	case MessageLeaveDocument:
		p = &LeaveDocumentPayload{}
	case MessageDocumentEdit:
		p = &DocumentEditPayload{}
	case MessageCursorPosition:
		p = &CursorPositionPayload{}
	case MessageDocumentLock:
		p = &DocumentLockPayload{}
	case MessageDocumentUnlock:
		p = &DocumentUnlockPayload{}
	case MessageSyncRequest:
		p = &SyncRequestPayload{}
	}

	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, e.Type, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
