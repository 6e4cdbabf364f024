package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// Redis provides a Redis-backed Store. Values are JSON encoded; an index set
// tracks stored ids so List does not need SCAN.
type Redis[T any] struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// RedisOption configures a Redis store.
type RedisOption func(*redisOptions)

type redisOptions struct {
	ttl    time.Duration
	prefix string
}

// WithTTL sets the time-to-live for stored values. Default is 24 hours. Set
// to 0 for no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) { o.ttl = ttl }
}

// WithPrefix sets the key prefix. Default is "agentflow".
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.prefix = prefix }
}

// NewRedis creates a Redis-backed store.
//
// Example:
//
//	runs := store.NewRedis[workflow.ExecutionState](
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    store.WithPrefix("agentflow:runs"),
//	)
func NewRedis[T any](client redis.UniversalClient, opts ...RedisOption) *Redis[T] {
	o := redisOptions{ttl: defaultTTL, prefix: "agentflow"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis[T]{client: client, ttl: o.ttl, prefix: o.prefix}
}

func (s *Redis[T]) key(id string) string { return s.prefix + ":" + id }

func (s *Redis[T]) indexKey() string { return s.prefix + ":index" }

// Save persists v with TTL and records id in the index.
func (s *Redis[T]) Save(ctx context.Context, id string, v T) error {
	if id == "" {
		return ErrInvalidID
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(id), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

// Load retrieves the value stored under id.
func (s *Redis[T]) Load(ctx context.Context, id string) (T, error) {
	var v T
	if id == "" {
		return v, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return v, ErrNotFound
		}
		return v, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return v, nil
}

// Delete removes id and its index entry.
func (s *Redis[T]) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// List returns ids whose values have not expired, in lexical order. Index
// entries of expired values are pruned.
func (s *Redis[T]) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}

	live := make([]string, 0, len(ids))
	var stale []any
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis exists failed: %w", err)
		}
		if n == 0 {
			stale = append(stale, id)
			continue
		}
		live = append(live, id)
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis srem failed: %w", err)
		}
	}

	slices.Sort(live)
	return live, nil
}
