// Package kv defines the minimal key-value contract shared by every node: a
// networked store with per-key atomicity, TTLs and glob key scans, plus a
// single-key optimistic read-modify-write primitive.
//
// Implementations
//
//	memorykv : in-process maps, for tests and single-node development
//	rediskv  : go-redis backed, the production shared store
//
// Neither implementation offers cross-key atomicity. Callers that touch
// several keys in one logical operation accept last-write-wins between them.
package kv

import (
	"context"
	"errors"
	"time"
)

// Store is the shared record store contract.
type Store interface {
	// Get returns the value stored at key, or nil with no error when the key
	// does not exist or has expired. An existing empty value is returned as a
	// non-nil empty slice.
	Get(ctx context.Context, key string) ([]byte, error)

	// MGet returns one entry per key, positionally. Missing keys yield nil.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)

	// Set stores value at key. A zero ttl means the key never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is unused and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Exists reports whether key currently holds a value.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets a ttl on an existing key and reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Scan returns every key matching a glob pattern (Redis MATCH syntax).
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Mutate runs fn against the current value of key and persists the result
	// atomically with respect to other writers of the same key. See MutateFunc.
	Mutate(ctx context.Context, key string, fn MutateFunc) error

	// Close releases the backend.
	Close() error
}

// MutateFunc computes the next value of a key from its current value (nil
// when absent). Returning a nil slice deletes the key; returning ErrSkip
// leaves it untouched and makes Mutate return nil. Any other error aborts the
// mutation and is returned from Mutate unchanged. fn may run more than once
// when a concurrent writer wins a race, so it must be free of side effects.
// An existing TTL on the key is preserved.
type MutateFunc func(current []byte) (next []byte, err error)

var (
	// ErrSkip aborts a Mutate without writing.
	ErrSkip = errors.New("kv: skip write")
	// ErrConflict is returned when Mutate lost every optimistic retry.
	ErrConflict = errors.New("kv: too many concurrent writers")
)

// DefaultMutateRetries bounds optimistic retries for backends that need them.
const DefaultMutateRetries = 16
