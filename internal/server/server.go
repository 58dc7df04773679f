// Package server holds the HTTP plumbing shared by the three binaries.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/sep-payments/internal/handler"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
	"github.com/josh-kwaku/sep-payments/internal/middleware"
)

const shutdownTimeout = 30 * time.Second

// NewMux registers the health and metrics endpoints every service exposes.
func NewMux(health *handler.HealthHandler, m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", health.Liveness)
	mux.HandleFunc("GET /health/live", health.Liveness)
	mux.HandleFunc("GET /health/ready", health.Readiness)
	mux.Handle("GET /metrics", m.Handler())
	return mux
}

// Handler wraps the mux with the standard middleware stack. Metrics sits
// innermost so it sees the pattern the mux matched.
func Handler(service string, mux *http.ServeMux, m *metrics.Metrics) http.Handler {
	h := middleware.Chain(mux,
		middleware.Tracing,
		middleware.Logging,
		middleware.Recovery,
		middleware.Metrics(m),
	)
	return otelhttp.NewHandler(h, service)
}

func New(port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run serves until SIGINT or SIGTERM, then cancels stop so background jobs
// wind down and drains in-flight requests.
func Run(srv *http.Server, stop context.CancelFunc) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		stop()
		return fmt.Errorf("Run: %w", err)
	case <-quit:
	}

	slog.Info("shutting down server")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("Run: shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
