// Package admin is the operator-facing HTTP surface: liveness, listings,
// force-disconnect, force-broadcast, the lock expiry sweep, and the
// recent-envelope ring buffer. It is meant for operators and cron jobs,
// never for end-user clients.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/syncroom-dev/syncroom/pkg/coordinator"
	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// Config configures the admin API.
type Config struct {
	// Token guards the /api/v1 routes with a bearer token when set.
	// /healthz is never guarded.
	Token string

	// MaxEnvelopeLimit caps the ?limit query on the envelope listing
	// (default: 500).
	MaxEnvelopeLimit int

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

// API serves the administrative routes over a coordinator.
type API struct {
	coord  *coordinator.Coordinator
	config Config
	logger *slog.Logger
	router chi.Router
}

// New creates the admin API.
func New(coord *coordinator.Coordinator, config Config) *API {
	if config.MaxEnvelopeLimit <= 0 {
		config.MaxEnvelopeLimit = 500
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	a := &API{
		coord:  coord,
		config: config,
		logger: config.Logger.With("component", "admin"),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if config.Token != "" {
			r.Use(a.requireToken)
		}
		r.Get("/stats", a.handleStats)
		r.Get("/connections", a.handleListConnections)
		r.Delete("/connections/{connectionID}", a.handleDisconnect)
		r.Get("/sessions", a.handleListSessions)
		r.Get("/sessions/{documentID}", a.handleSessionSnapshot)
		r.Post("/sessions/{documentID}/broadcast", a.handleBroadcast)
		r.Post("/sweep", a.handleSweep)
		r.Get("/envelopes", a.handleEnvelopes)
	})

	a.router = r
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) requireToken(next http.Handler) http.Handler {
	want := []byte("Bearer " + a.config.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	registry := a.coord.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": registry.Count(),
		"users":       registry.UserCount(),
		"sessions":    a.coord.Sessions().Count(),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.coord.Metrics())
}

func (a *API) handleListConnections(w http.ResponseWriter, r *http.Request) {
	list := a.coord.Registry().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": list,
		"count":       len(list),
	})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")
	if _, ok := a.coord.Registry().Get(connectionID); !ok {
		writeError(w, http.StatusNotFound, "unknown connection")
		return
	}

	a.coord.Disconnect(connectionID)
	a.logger.Info("forced disconnect", "connection_id", connectionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"disconnected": connectionID,
	})
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := a.coord.Sessions().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
	})
}

func (a *API) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	snapshot, ok := a.coord.Sessions().Snapshot(documentID)
	if !ok {
		writeError(w, http.StatusNotFound, "no active session for document")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleBroadcast pushes an arbitrary envelope to every member of a
// session. The body is a full wire envelope; it must decode but is
// otherwise delivered as-is.
func (a *API) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	if _, ok := a.coord.Sessions().Snapshot(documentID); !ok {
		writeError(w, http.StatusNotFound, "no active session for document")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	env, err := protocol.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delivered := a.coord.Broadcast(documentID, env)
	a.logger.Info("forced broadcast",
		"document_id", documentID,
		"type", string(env.Type),
		"delivered", delivered)
	writeJSON(w, http.StatusOK, map[string]any{
		"documentId": documentID,
		"delivered":  delivered,
	})
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	expired := a.coord.SweepExpiredLocks()
	if expired > 0 {
		a.logger.Info("sweep expired locks", "expired", expired)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"expired": expired,
	})
}

func (a *API) handleEnvelopes(w http.ResponseWriter, r *http.Request) {
	limit := a.config.MaxEnvelopeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	records := a.coord.History().Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"envelopes": records,
		"count":     len(records),
		"total":     a.coord.History().Total(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
