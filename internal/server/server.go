// Package server assembles the shared HTTP plumbing for both binaries.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/springfiles/edgecache/internal/health"
	"github.com/springfiles/edgecache/internal/middleware"
	"github.com/springfiles/edgecache/internal/observability"
)

// NewRouter builds the base router: recovery, request logging, CORS,
// liveness and readiness. Mount points under it come from the caller.
func NewRouter(logger *slog.Logger, deps map[string]health.Pinger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(deps))
	return r
}

// Options tunes Run beyond the defaults.
type Options struct {
	// Drain runs after the listener has stopped accepting requests but
	// before Run returns. The edge server flushes in-flight background
	// publishes here.
	Drain func()
}

// Run serves handler on addr until ctx is done, then shuts down
// gracefully.
func Run(ctx context.Context, addr string, logger *slog.Logger, handler http.Handler, opts Options) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if opts.Drain != nil {
			logger.Info("draining background work")
			opts.Drain()
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// RunMetrics serves the Prometheus endpoint on its own listener when
// enabled, mirroring the main server's lifecycle.
func RunMetrics(ctx context.Context, addr, path string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, observability.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("metrics listen", "addr", addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server exited", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
