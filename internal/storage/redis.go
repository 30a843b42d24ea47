package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"linqyard/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisBucketStore keeps rate limit buckets in Redis. Each bucket is one
// counter key that expires two windows after it starts, so no cleanup job is
// needed.
type RedisBucketStore struct {
	client *redis.Client
	prefix string
}

// NewRedisBucketStore connects to Redis and verifies the connection.
func NewRedisBucketStore(cfg models.RedisConfig) (*RedisBucketStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisBucketStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisBucketStoreWithClient wraps an existing client.
func NewRedisBucketStoreWithClient(client *redis.Client, prefix string) *RedisBucketStore {
	return &RedisBucketStore{client: client, prefix: prefix}
}

// IncrementBucket runs INCR and EXPIREAT in one MULTI/EXEC and returns the new count.
func (r *RedisBucketStore) IncrementBucket(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	k := r.bucketKey(key, windowStart)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireAt(ctx, k, windowStart.Add(2*window))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment bucket: %w", err)
	}
	return incr.Val(), nil
}

// DeleteBucketsBefore is a no-op; Redis expires buckets on its own.
func (r *RedisBucketStore) DeleteBucketsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return 0, nil
}

// Ping verifies Redis is reachable.
func (r *RedisBucketStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisBucketStore) Close() error {
	return r.client.Close()
}

func (r *RedisBucketStore) bucketKey(key string, windowStart time.Time) string {
	return r.prefix + key + ":" + strconv.FormatInt(windowStart.UnixMilli(), 10)
}
