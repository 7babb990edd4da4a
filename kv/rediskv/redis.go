package rediskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/partymesh/kv"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance.
	Client redis.UniversalClient

	// MutateRetries bounds optimistic retries in Mutate.
	// Default: kv.DefaultMutateRetries
	MutateRetries int

	// ScanCount is the COUNT hint passed to SCAN.
	// Default: 100
	ScanCount int64
}

// Store implements kv.Store using Redis.
type Store struct {
	client        redis.UniversalClient
	mutateRetries int
	scanCount     int64
}

// New creates a new Redis-backed store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.MutateRetries <= 0 {
		config.MutateRetries = kv.DefaultMutateRetries
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 100
	}
	return &Store{
		client:        config.Client,
		mutateRetries: config.MutateRetries,
		scanCount:     config.ScanCount,
	}, nil
}

// Client exposes the underlying client so the bus can share the connection pool.
func (s *Store) Client() redis.UniversalClient { return s.client }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func (s *Store) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget %d keys: %w", len(keys), err)
	}
	for i, v := range vals {
		switch t := v.(type) {
		case string:
			out[i] = []byte(t)
		case []byte:
			out[i] = t
		}
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete %d keys: %w", len(keys), err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to expire key %s: %w", key, err)
	}
	return ok, nil
}

// Scan uses Redis SCAN to find all keys matching a pattern.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
		}
		// SCAN may return a key more than once across iterations.
		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *Store) Mutate(ctx context.Context, key string, fn kv.MutateFunc) error {
	for range s.mutateRetries {
		var fnErr error
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				cur = nil
			case err != nil:
				return err
			case cur == nil:
				cur = []byte{}
			}

			next, err := fn(cur)
			if err != nil {
				fnErr = err
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, key)
				} else {
					pipe.Set(ctx, key, next, redis.KeepTTL)
				}
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			if errors.Is(fnErr, kv.ErrSkip) {
				return nil
			}
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("failed to mutate key %s: %w", key, err)
		}
	}
	return fmt.Errorf("mutate key %s: %w", key, kv.ErrConflict)
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Compile-time interface check
var _ kv.Store = (*Store)(nil)
