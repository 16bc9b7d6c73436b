// Package coordinator implements the document collaboration core.
//
// The coordinator tracks which connections exist, which documents they
// have joined, who is present in each document, and who holds each
// document's advisory edit lock. It owns no document content: edits are
// relayed verbatim between members and persistence lives elsewhere.
//
// # Architecture
//
// The coordinator consists of several key components:
//
//   - Registry: Connection bookkeeping with a user-to-connections index
//   - DocumentSession: Per-document state (presence, lock lease, revision)
//   - SessionManager: Session lifecycle plus join/leave/edit/cursor/lock operations
//   - Dispatcher: Envelope delivery to single peers, documents, or users
//   - Router: Decodes inbound envelopes and dispatches them, one at a time
//   - Coordinator: Wires the above together behind one façade
//
// # Session Lifecycle
//
// Document sessions are created lazily: the first join of a document ID
// creates the session, and the last leave (or disconnect) destroys it.
// A destroyed session keeps no state; rejoining the same document ID
// starts from an empty session with a fresh version counter.
//
// # Locking
//
// Each session carries at most one advisory lock lease. A lease names
// its holder and an expiry deadline. Expiry is enacted lazily: a stale
// lease is taken over by the next acquire, cleared by an explicit sweep,
// and ignored when gating edits. Nothing in this package schedules its
// own timers for lease expiry.
//
// # Ordering
//
// The router processes one envelope per connection at a time, in arrival
// order. Processing an envelope completes, including its broadcasts,
// before the next envelope from the same connection starts.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. The manager takes its
// own lock before a session's lock; no code path holds two session locks
// at once. Broadcasts run after locks are released, against a membership
// snapshot taken under the session lock.
package coordinator
