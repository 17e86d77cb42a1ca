package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore keeps in-flight markers and completed results in Redis.
type IdempotencyStore struct {
	rdb    *redis.Client
	prefix string
}

// NewIdempotencyStore creates a store under the client's key prefix.
func NewIdempotencyStore(client *Client) *IdempotencyStore {
	return &IdempotencyStore{rdb: client.rdb, prefix: client.key("idem")}
}

func (s *IdempotencyStore) resultKey(key string) string { return s.prefix + ":result:" + key }
func (s *IdempotencyStore) lockKey(key string) string   { return s.prefix + ":lock:" + key }

// Get returns a completed result.
func (s *IdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}
	return val, true, nil
}

// Acquire sets the in-flight marker if nobody holds it.
func (s *IdempotencyStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.lockKey(key), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Complete stores the result and drops the marker.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, result []byte, retention time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.resultKey(key), result, retention)
	pipe.Del(ctx, s.lockKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// Release drops the marker without storing a result.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.lockKey(key)).Err()
}
