package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// retryDelays mirrors the teacher's withRetry backoff schedule
// (internal/gcpclient/retry.go: 500ms, 1s, 2s capped at a 4s ceiling),
// generalized from a hardcoded Vertex AI 429 check to kmerr.KindTransientBackend.
var retryDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// withRetry runs fn, retrying while it returns a KindTransientBackend error,
// up to len(retryDelays)+1 attempts total (spec §4.1 "retried with
// exponential backoff up to a configured attempt count, then ... propagated").
func withRetry(ctx context.Context, operation string, fn func() error) error {
	err := fn()
	if err == nil || !kmerr.Is(err, kmerr.KindTransientBackend) {
		return err
	}

	for i, delay := range retryDelays {
		slog.WarnContext(ctx, "transient backend error, retrying",
			"operation", operation, "attempt", i+2, "delay_ms", delay.Milliseconds(), "error", err)

		select {
		case <-ctx.Done():
			return kmerr.New(kmerr.KindCancelled, operation, ctx.Err())
		case <-time.After(delay):
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !kmerr.Is(err, kmerr.KindTransientBackend) {
			return err
		}
	}

	slog.ErrorContext(ctx, "transient backend retries exhausted", "operation", operation, "attempts", len(retryDelays)+1)
	return err
}
