// Package server hosts the monitor's HTTP surface in serve mode.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/config"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/health"
	middleware "github.com/mohammed-shakir/buurtweg-monitor/internal/core/middleware"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/router"
)

func NewRouter(logger *slog.Logger, tracker *router.Tracker, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(tracker))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Post("/run", router.HandleRun(logger, tracker))
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	// a run can take up to RunTimeout before the reply is written
	writeTimeout := 60 * time.Second
	if cfg.RunTimeout+10*time.Second > writeTimeout {
		writeTimeout = cfg.RunTimeout + 10*time.Second
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
