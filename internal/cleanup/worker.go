// Package cleanup removes expired rate limit buckets in the background.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"linqyard/internal/models"
	"linqyard/internal/storage"

	"golang.org/x/time/rate"
)

// Worker deletes buckets whose window started more than Retention ago. Each
// sweep deletes in batches and every batch waits on a rate limiter so a large
// backlog never monopolizes the database.
type Worker struct {
	store         storage.BucketStore
	interval      time.Duration
	retention     time.Duration
	longestWindow time.Duration
	batchSize     int
	pacer         *rate.Limiter
	now           func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithLongestWindow keeps every bucket whose window may still be open: the
// cutoff never moves past now minus the longest policy window.
func WithLongestWindow(window time.Duration) Option {
	return func(w *Worker) { w.longestWindow = window }
}

// NewWorker creates a worker from configuration.
func NewWorker(store storage.BucketStore, cfg models.BucketCleanupConfig, opts ...Option) (*Worker, error) {
	if store == nil {
		return nil, errors.New("bucket store is required")
	}
	if cfg.Interval <= 0 || cfg.Retention <= 0 || cfg.BatchSize < 1 || cfg.BatchesPerSecond <= 0 {
		return nil, fmt.Errorf("invalid cleanup config: %+v", cfg)
	}

	w := &Worker{
		store:     store,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		batchSize: cfg.BatchSize,
		pacer:     rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.longestWindow > w.retention {
		slog.Warn("Cleanup retention is shorter than the longest policy window; open windows are kept",
			"retention", w.retention,
			"longest_window", w.longestWindow,
		)
	}
	return w, nil
}

// cutoff is the window start before which buckets are deleted.
func (w *Worker) cutoff(now time.Time) time.Time {
	return now.Add(-max(w.retention, w.longestWindow))
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Bucket cleanup worker started",
		"interval", w.interval,
		"retention", w.retention,
		"batch_size", w.batchSize,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Bucket cleanup failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("Bucket cleanup worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce deletes every expired bucket, one paced batch at a time, and
// returns how many were removed.
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	cutoff := w.cutoff(w.now())

	var total int64
	for {
		if err := w.pacer.Wait(ctx); err != nil {
			return total, err
		}

		n, err := w.store.DeleteBucketsBefore(ctx, cutoff, w.batchSize)
		total += n
		if err != nil {
			return total, fmt.Errorf("delete buckets before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		if n < int64(w.batchSize) {
			break
		}
	}

	if total > 0 {
		slog.Debug("Deleted expired rate limit buckets", "count", total, "cutoff", cutoff)
	}
	return total, nil
}
