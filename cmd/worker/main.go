// Command worker drains the distributed-mode queue (spec §4.1 "distributed
// mode"): each iteration dequeues one pipeline-step message, runs that
// single step, and acks/nacks it, relying on internal/pipeline.Orchestrator
// for all state transitions. Requires QUEUE_BACKEND=pubsub; the in-process
// default has nothing for a worker to drain.
//
// No teacher equivalent — RAGbox's pipeline only ever ran synchronously
// inside the request handler. Grounded on the teacher's cmd/server/main.go
// shutdown shape (SIGINT/SIGTERM, bounded context) plus
// internal/pipeline/orchestrator.go's RunWorker contract, with the poll
// loop's backpressure modeled on golang.org/x/time/rate the way WessleyAI
// rate-limits its own poller.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/connexus-ai/kmemory/internal/config"
	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/wiring"
)

const Version = "0.1.0"

// pollRate caps how many RunWorker iterations start per second; the limiter
// is waited on before every iteration, whether or not the previous one
// found a message.
const pollRate = 5 // per second

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return kmerr.New(kmerr.KindConfiguration, "main.run", err)
	}
	if cfg.QueueBackend != "pubsub" {
		return kmerr.New(kmerr.KindConfiguration, "main.run",
			fmt.Errorf("QUEUE_BACKEND=%q: cmd/worker requires QUEUE_BACKEND=pubsub (in-process mode has nothing to drain)", cfg.QueueBackend))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := wiring.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer components.Close()

	slog.Info("kmemory worker starting", "version", Version, "environment", cfg.Environment)

	limiter := rate.NewLimiter(rate.Limit(pollRate), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			break // context cancelled
		}

		if err := components.Orchestrator.RunWorker(ctx); err != nil {
			if kmerr.Is(err, kmerr.KindCancelled) || ctx.Err() != nil {
				break
			}
			slog.ErrorContext(ctx, "worker iteration failed", "error", err)
		}
	}

	slog.Info("worker stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(kmerr.ExitCode(err))
	}
}
