package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/syncroom-dev/syncroom/pkg/audit"
	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// Ctx carries one inbound envelope through the middleware chain and the
// dispatch. It is created per envelope and never reused.
type Ctx struct {
	ctx        context.Context
	conn       *Connection
	envelope   *protocol.Envelope
	documentID string
	values     map[any]any
}

// NewCtx builds a Ctx outside the router, mainly for exercising
// middleware in isolation. The router builds its own.
func NewCtx(ctx context.Context, conn *Connection, env *protocol.Envelope, documentID string) *Ctx {
	return &Ctx{
		ctx:        ctx,
		conn:       conn,
		envelope:   env,
		documentID: documentID,
	}
}

// Context returns the request context.
func (c *Ctx) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// SetContext replaces the request context, e.g. to carry a trace span
// into the handler.
func (c *Ctx) SetContext(ctx context.Context) {
	c.ctx = ctx
}

// Connection returns the originating connection.
func (c *Ctx) Connection() *Connection { return c.conn }

// Envelope returns the inbound envelope.
func (c *Ctx) Envelope() *protocol.Envelope { return c.envelope }

// Type returns the inbound envelope's message type.
func (c *Ctx) Type() protocol.MessageType { return c.envelope.Type }

// DocumentID returns the document the envelope targets, or "" when the
// type carries none.
func (c *Ctx) DocumentID() string { return c.documentID }

// SetValue stores a value on the context for later middleware or handlers.
func (c *Ctx) SetValue(key, value any) {
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = value
}

// Value retrieves a value stored with SetValue.
func (c *Ctx) Value(key any) any {
	if c.values == nil {
		return nil
	}
	return c.values[key]
}

// Middleware wraps envelope dispatch. Call next to continue the chain;
// the returned error is what the router maps to an error envelope.
type Middleware interface {
	Handle(ctx *Ctx, next func() error) error
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(ctx *Ctx, next func() error) error

// Handle implements Middleware.
func (f MiddlewareFunc) Handle(ctx *Ctx, next func() error) error {
	return f(ctx, next)
}

// composeMiddleware builds a handler chain from middleware and a final
// handler, executed first to last with the handler at the end.
func composeMiddleware(ctx *Ctx, mw []Middleware, handler func() error) error {
	chain := handler
	for i := len(mw) - 1; i >= 0; i-- {
		m := mw[i]
		next := chain
		chain = func() error {
			return m.Handle(ctx, next)
		}
	}
	return chain()
}

// Router is the only component that understands the wire vocabulary. It
// decodes inbound frames, validates them, runs the middleware chain, and
// dispatches exactly one manager operation per envelope. Failures are
// answered to the originating connection only; the router holds no state
// of its own beyond the route history.
type Router struct {
	manager    *SessionManager
	dispatcher *Dispatcher
	metrics    *MetricsCollector
	history    *RouteHistory
	recorder   audit.Recorder
	middleware []Middleware
	logger     *slog.Logger
}

// NewRouter creates a Router over the given manager and dispatcher.
func NewRouter(manager *SessionManager, dispatcher *Dispatcher, metrics *MetricsCollector, history *RouteHistory, recorder audit.Recorder, logger *slog.Logger) *Router {
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		manager:    manager,
		dispatcher: dispatcher,
		metrics:    metrics,
		history:    history,
		recorder:   recorder,
		logger:     logger.With("component", "router"),
	}
}

// Use appends middleware to the dispatch chain. Not safe to call once
// routing has started.
func (r *Router) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

// Route processes one raw inbound frame from a connection: decode,
// validate, dispatch, reply. It never returns an error; every failure is
// answered on the wire or swallowed per the peer-gone policy.
func (r *Router) Route(ctx context.Context, conn *Connection, raw []byte) {
	start := time.Now()

	env, err := protocol.Decode(raw)
	if err != nil {
		r.metrics.RecordValidationFailure()
		r.logger.Warn("undecodable frame",
			"connection_id", conn.ID,
			"error", err)
		r.reply(conn, protocol.NewError(protocol.CodeValidation, err.Error()))
		return
	}

	payload, err := env.ParsePayload()
	if err != nil {
		r.metrics.RecordValidationFailure()
		r.record(conn, env, "", start, err)
		r.reply(conn, protocol.NewError(protocol.CodeValidation, err.Error()))
		return
	}

	c := &Ctx{
		ctx:        ctx,
		conn:       conn,
		envelope:   env,
		documentID: payloadDocument(payload),
	}

	err = composeMiddleware(c, r.middleware, func() error {
		return r.dispatch(c, payload)
	})

	r.metrics.RecordRouteLatency(time.Since(start).Microseconds())
	r.record(conn, env, c.documentID, start, err)

	if errors.Is(err, ErrPeerGone) {
		// The originator died mid-request. Tear it down; there is no one
		// left to answer.
		r.manager.HandleDisconnect(conn.ID)
		return
	}
	if err != nil {
		r.metrics.RecordEnvelopeFailed()
		r.reply(conn, errorEnvelope(err))
		return
	}
	r.metrics.RecordEnvelopeRouted()
}

// dispatch runs the single manager operation for the envelope type.
// Panics are recovered here so one bad handler cannot take down the
// connection's read loop, let alone anyone else's.
func (r *Router) dispatch(c *Ctx, payload protocol.Payload) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			r.metrics.RecordRouterPanic()
			r.logger.Error("handler panic",
				"connection_id", c.conn.ID,
				"type", string(c.Type()),
				"panic", rec,
				"stack", string(stack))
			err = opError("dispatch", c.documentID, c.conn.ID, ErrInternal)
		}
	}()

	switch p := payload.(type) {
	case *protocol.JoinDocumentPayload:
		snap, err := r.manager.Join(c.conn.ID, p.DocumentID, p.ParentID)
		if err != nil {
			return err
		}
		return r.dispatcher.SendTo(c.conn.ID, protocol.NewSyncResponse(snap))

	case *protocol.LeaveDocumentPayload:
		return r.manager.Leave(c.conn.ID, p.DocumentID)

	case *protocol.DocumentEditPayload:
		return r.manager.ApplyEdit(c.conn.ID, p.DocumentID, p)

	case *protocol.CursorPositionPayload:
		return r.manager.ApplyCursor(c.conn.ID, p.DocumentID, p.Position, p.SelectionStart, p.SelectionEnd)

	case *protocol.DocumentLockPayload:
		_, err := r.manager.AcquireLock(c.conn.ID, p.DocumentID, time.Duration(p.LockDurationSeconds)*time.Second)
		return err

	case *protocol.DocumentUnlockPayload:
		return r.manager.ReleaseLock(c.conn.ID, p.DocumentID)

	case *protocol.SyncRequestPayload:
		snap, ok := r.manager.Snapshot(p.DocumentID)
		if !ok {
			return opError("sync", p.DocumentID, c.conn.ID, ErrSessionNotFound)
		}
		return r.dispatcher.SendTo(c.conn.ID, protocol.NewSyncResponse(snap))

	case *protocol.DisconnectPayload:
		r.manager.HandleDisconnect(c.conn.ID)
		return nil

	default:
		// ParsePayload only produces the types above; reaching here means
		// a new inbound type was added without a dispatch arm.
		return opError("dispatch", c.documentID, c.conn.ID, ErrInternal)
	}
}

// reply sends an envelope back to the originator. A gone peer triggers
// the disconnect cascade instead of surfacing anywhere.
func (r *Router) reply(conn *Connection, env *protocol.Envelope) {
	if err := r.dispatcher.SendTo(conn.ID, env); err != nil {
		if errors.Is(err, ErrPeerGone) {
			r.manager.HandleDisconnect(conn.ID)
			return
		}
		r.logger.Error("reply failed",
			"connection_id", conn.ID,
			"error", err)
	}
}

// record appends the route outcome to the history ring and the audit
// trail.
func (r *Router) record(conn *Connection, env *protocol.Envelope, documentID string, start time.Time, err error) {
	status := "ok"
	msg := ""
	switch {
	case errors.Is(err, ErrPeerGone):
		// Never surfaced on the wire, but the trail should say why the
		// request got no answer.
		status = "peer_gone"
		msg = err.Error()
	case err != nil:
		status = string(errorCode(err))
		msg = err.Error()
	}

	rec := &RouteRecord{
		MessageID:    env.ID,
		Type:         env.Type,
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		DocumentID:   documentID,
		Status:       status,
		Error:        msg,
		At:           start.UTC(),
	}
	if r.history != nil {
		r.history.Add(rec)
	}
	if r.recorder != nil {
		if aerr := r.recorder.Record(audit.Entry{
			MessageID:    rec.MessageID,
			Type:         string(rec.Type),
			ConnectionID: rec.ConnectionID,
			UserID:       rec.UserID,
			DocumentID:   rec.DocumentID,
			Status:       rec.Status,
			Error:        rec.Error,
			At:           rec.At,
		}); aerr != nil {
			r.logger.Error("audit record failed", "error", aerr)
		}
	}
}

// payloadDocument extracts the target document ID from an inbound payload.
func payloadDocument(payload protocol.Payload) string {
	switch p := payload.(type) {
	case *protocol.JoinDocumentPayload:
		return p.DocumentID
	case *protocol.LeaveDocumentPayload:
		return p.DocumentID
	case *protocol.DocumentEditPayload:
		return p.DocumentID
	case *protocol.CursorPositionPayload:
		return p.DocumentID
	case *protocol.DocumentLockPayload:
		return p.DocumentID
	case *protocol.DocumentUnlockPayload:
		return p.DocumentID
	case *protocol.SyncRequestPayload:
		return p.DocumentID
	default:
		return ""
	}
}

// errorCode maps a dispatch error to its wire error code.
func errorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, ErrLockConflict):
		return protocol.CodeLockConflict
	case errors.Is(err, ErrNotLockHolder):
		return protocol.CodeNotLockHolder
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNotInSession):
		return protocol.CodeSessionNotFound
	case errors.Is(err, ErrUnknownConnection):
		return protocol.CodeValidation
	default:
		return protocol.CodeInternal
	}
}

// errorEnvelope builds the error reply for a dispatch failure. Internal
// failures are reported generically; their detail stays in the logs.
func errorEnvelope(err error) *protocol.Envelope {
	code := errorCode(err)
	msg := err.Error()
	if code == protocol.CodeInternal {
		msg = "internal error"
	}
	return protocol.NewError(code, msg)
}
