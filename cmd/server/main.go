// Command server runs kmemory's ingest/query HTTP surface in in-process
// mode (spec §4.1): the pipeline steps for an imported document run one
// after another in a background goroutine of this process, started by the
// orchestrator once the request has been accepted, unless
// QUEUE_BACKEND=pubsub switches it to enqueue-and-return, in which case a
// separate cmd/worker process drains the queue.
//
// Ported from the teacher's cmd/server/main.go (same graceful-shutdown
// shape: SIGINT/SIGTERM, bounded Shutdown context) with the router and
// dependency graph replaced by internal/httpapi and internal/wiring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/kmemory/internal/config"
	"github.com/connexus-ai/kmemory/internal/httpapi"
	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/middleware"
	"github.com/connexus-ai/kmemory/internal/wiring"
)

const Version = "0.1.0"

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return kmerr.New(kmerr.KindConfiguration, "main.run", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := wiring.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer components.Close()

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	var limiter *middleware.RateLimiter
	if cfg.RateLimitMaxRequests > 0 {
		limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			MaxRequests: cfg.RateLimitMaxRequests,
			Window:      time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
		})
		defer limiter.Stop()
	}

	router := httpapi.New(httpapi.RouterDeps{
		Deps: httpapi.Deps{
			Orchestrator: components.Orchestrator,
			Search:       components.Search,
			HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		},
		FrontendURL: cfg.FrontendURL,
		Metrics:     metrics,
		RateLimit:   limiter,
	})
	router.Handle("/metrics", middleware.MetricsHandler(reg))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("kmemory server starting", "version", Version, "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return kmerr.New(kmerr.KindPermanentBackend, "main.run", fmt.Errorf("server error: %w", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return kmerr.New(kmerr.KindPermanentBackend, "main.run", fmt.Errorf("graceful shutdown failed: %w", err))
	}

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(kmerr.ExitCode(err))
	}
}
