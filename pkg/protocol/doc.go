// Package protocol defines the JSON wire protocol for syncroom.
//
// Every message exchanged with a client is a typed Envelope. The envelope
// carries the message type, a generated message id for tracing and audit,
// a timestamp, and a type-specific payload. The protocol does not require
// idempotent replay; message ids are never used for deduplication.
//
// # Wire Format
//
// Envelopes are JSON objects:
//
//	{
//	  "type": "join_document",
//	  "id": "8f14e45f-ceea-4e29-b6f3-7c6f6c5d91aa",
//	  "timestamp": "2026-08-23T10:15:04Z",
//	  "payload": {"documentId": "doc-1", "parentId": "matter-7"}
//	}
//
// # Message Types
//
// Client ⇒ server:
//
//   - join_document: enter a document session
//   - leave_document: exit a document session
//   - document_edit: relay an edit operation (requires the lock, or no lock held)
//   - cursor_position: update cursor/selection
//   - document_lock: acquire the exclusive edit lease
//   - document_unlock: release the exclusive edit lease
//   - sync_request: request the current session snapshot
//   - disconnect: graceful disconnect
//
// Server ⇒ client:
//
//   - connect: connection accepted, carries the assigned connection id
//   - sync_response: session snapshot (join confirmation and sync replies)
//   - user_presence: another user joined or left
//   - cursor_position, document_edit: relayed from other users
//   - document_lock, document_unlock: lock state changes
//   - error: request failed, carries a stable code and a message
//
// # Flow Example
//
//	Client A                        Server                        Client B
//	  │── join_document ──────────────>│                             │
//	  │<───────────── sync_response ───│── user_presence(joined) ───>│
//	  │── document_lock ──────────────>│                             │
//	  │<───────────── document_lock ───│── document_lock ───────────>│
//	  │── document_edit ──────────────>│                             │
//	  │                                │── document_edit ───────────>│
//
// # Validation
//
// Each payload type validates its required fields. Decode and ParsePayload
// never mutate coordinator state; a failure is reported to the originating
// connection only.
package protocol
