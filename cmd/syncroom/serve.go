package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncroom-dev/syncroom"
	"github.com/syncroom-dev/syncroom/internal/config"
)

func serveCmd() *cobra.Command {
	var (
		configPath    string
		listen        string
		sweepInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator server",
		Long: `Run the coordinator server: the WebSocket endpoint, the admin API,
and the metrics endpoint on one listener.

Configuration comes from syncroom.json, discovered by walking up from
the working directory, or from --config / $SYNCROOM_CONFIG. Flags
override the file.

The lock expiry sweep is externally triggered: run 'syncroom sweep'
from cron against the admin API, or pass --sweep-interval to run it
in-process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if configPath != "" {
				cfg, err = config.LoadFile(configPath)
			} else {
				cfg, err = config.LoadFromWorkingDir()
			}
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			logger := cfg.Logger()
			appCfg, err := cfg.AppConfig(logger)
			if err != nil {
				return err
			}

			app, err := syncroom.New(appCfg)
			if err != nil {
				return err
			}
			defer app.Close()

			srv := &http.Server{
				Addr:    cfg.Listen,
				Handler: app,
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if sweepInterval > 0 {
				go runSweeper(ctx, app, sweepInterval, logger)
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening",
					"addr", cfg.Listen,
					"name", cfg.Name,
					"version", version)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to syncroom.json")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides config)")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 0,
		"Run the lock expiry sweep in-process at this interval (0 disables)")

	return cmd
}

func runSweeper(ctx context.Context, app *syncroom.App, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if expired := app.Sweep(); expired > 0 {
				logger.Info("lock sweep", "expired", expired)
			}
		case <-ctx.Done():
			return
		}
	}
}
