package cleanup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"linqyard/internal/models"
	"linqyard/internal/ratelimit"
	"linqyard/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() models.BucketCleanupConfig {
	return models.BucketCleanupConfig{
		Enabled:          true,
		Interval:         time.Hour,
		Retention:        time.Hour,
		BatchSize:        2,
		BatchesPerSecond: 1000,
	}
}

func TestNewWorkerValidation(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	_, err = NewWorker(nil, testConfig())
	assert.Error(t, err)

	bad := testConfig()
	bad.BatchSize = 0
	_, err = NewWorker(store, bad)
	assert.Error(t, err)

	_, err = NewWorker(store, testConfig())
	assert.NoError(t, err)
}

func TestRunOnceDeletesOnlyExpiredBuckets(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-3 * time.Hour)
	recent := now.Add(-10 * time.Minute)

	for i := 0; i < 5; i++ {
		_, err := store.IncrementBucket(ctx, fmt.Sprintf("default:ip:10.0.0.%d", i), old, time.Minute)
		require.NoError(t, err)
	}
	_, err = store.IncrementBucket(ctx, "default:ip:10.0.0.99", recent, time.Minute)
	require.NoError(t, err)

	w, err := NewWorker(store, testConfig())
	require.NoError(t, err)
	w.now = func() time.Time { return now }

	deleted, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted, "five expired buckets across three batches")

	for i := 0; i < 5; i++ {
		assert.Zero(t, store.BucketCount(fmt.Sprintf("default:ip:10.0.0.%d", i), old))
	}
	assert.Equal(t, int64(1), store.BucketCount("default:ip:10.0.0.99", recent))
}

func TestRunOnceKeepsOpenWindows(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	ctx := context.Background()

	rl := models.RateLimitConfig{Policies: []models.RateLimitPolicyConfig{
		{Name: "daily", Limit: 2, Window: 24 * time.Hour},
	}}
	policies, err := ratelimit.NewPolicies(rl)
	require.NoError(t, err)

	// Late in the day, so the open window started well over an hour ago.
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	limiter, err := ratelimit.NewLimiter(store, policies, true, ratelimit.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	w, err := NewWorker(store, testConfig(), WithLongestWindow(rl.LongestWindow()))
	require.NoError(t, err)
	w.now = func() time.Time { return now }

	admitted := 0
	for i := 0; i < 6; i++ {
		d, err := limiter.ShouldAllow(ctx, "daily", "user:alice")
		require.NoError(t, err)
		if d.IsAllowed {
			admitted++
		}

		deleted, err := w.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, deleted, "the open window's bucket must survive cleanup")
	}
	assert.Equal(t, 2, admitted)

	start, _ := ratelimit.WindowFor(now, 24*time.Hour)
	assert.Equal(t, int64(6), store.BucketCount(ratelimit.BucketKey("daily", "user:alice"), start))

	// A day later the old window is closed and goes.
	w.now = func() time.Time { return now.Add(25 * time.Hour) }
	deleted, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestCutoffUsesLongerOfRetentionAndWindow(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w, err := NewWorker(store, testConfig())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), w.cutoff(now))

	w, err = NewWorker(store, testConfig(), WithLongestWindow(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), w.cutoff(now))

	w, err = NewWorker(store, testConfig(), WithLongestWindow(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), w.cutoff(now))
}

type erroringStore struct{ calls int }

func (e *erroringStore) IncrementBucket(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	return 0, nil
}

func (e *erroringStore) DeleteBucketsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	e.calls++
	return 0, errors.New("database is locked")
}

func TestRunOnceReturnsStoreError(t *testing.T) {
	store := &erroringStore{}
	w, err := NewWorker(store, testConfig())
	require.NoError(t, err)

	_, err = w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, store.calls)
}

func TestRunStopsWithContext(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	w, err := NewWorker(store, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
