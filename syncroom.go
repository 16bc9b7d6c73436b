// Package syncroom composes the collaborative-session coordinator, the
// WebSocket transport edge, the admin API, and the metrics endpoint into
// one http.Handler.
//
//	app, err := syncroom.New(syncroom.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Close()
//	http.ListenAndServe(":8080", app)
package syncroom

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncroom-dev/syncroom/pkg/admin"
	"github.com/syncroom-dev/syncroom/pkg/coordinator"
	"github.com/syncroom-dev/syncroom/pkg/middleware"
	"github.com/syncroom-dev/syncroom/pkg/server"
)

// App is the assembled application. It implements http.Handler so it can
// be served directly or mounted under an existing router.
type App struct {
	coord  *coordinator.Coordinator
	server *server.Server
	admin  *admin.API
	mux    chi.Router
	config Config
	logger *slog.Logger
}

// New builds the App from the config.
func New(config Config) (*App, error) {
	config.applyDefaults()
	logger := config.Logger

	coord, err := coordinator.New(config.Coordinator, logger)
	if err != nil {
		return nil, err
	}

	if config.Metrics.Enabled {
		coord.Use(middleware.Prometheus())
		coord.SetConnectionHooks(
			func(*coordinator.Connection) { middleware.RecordConnectionOpen() },
			func(*coordinator.Connection) { middleware.RecordConnectionClose() },
		)
		coord.Sessions().SetCallbacks(
			func(string) { middleware.RecordSessionCreate() },
			func(string) { middleware.RecordSessionDestroy() },
		)
	}
	if config.Tracing.Enabled {
		var opts []middleware.OTelOption
		if config.Tracing.TracerName != "" {
			opts = append(opts, middleware.WithTracerName(config.Tracing.TracerName))
		}
		coord.Use(middleware.OpenTelemetry(opts...))
	}

	srv, err := server.New(coord, config.Server)
	if err != nil {
		coord.Close()
		return nil, err
	}

	adminAPI := admin.New(coord, config.Admin)

	app := &App{
		coord:  coord,
		server: srv,
		admin:  adminAPI,
		config: config,
		logger: logger,
	}

	mux := chi.NewRouter()
	mux.Handle(srv.Config().Path, srv)
	if config.Metrics.Enabled {
		mux.Handle(config.Metrics.Path, promhttp.Handler())
	}
	mux.Mount("/", adminAPI)
	app.mux = mux

	return app, nil
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Coordinator returns the underlying coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Sweep runs one lock expiry sweep and returns how many leases it ended.
// The library never schedules this; a cron job or the serve command's
// ticker calls it.
func (a *App) Sweep() int {
	return a.coord.SweepExpiredLocks()
}

// Close disconnects every client and shuts the coordinator down.
func (a *App) Close() error {
	return a.coord.Close()
}
