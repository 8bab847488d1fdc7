// Package kvstore is the shared TTL key-value store every session
// component reads and writes through.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist or has expired.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrWrongType is returned when a key holds a different kind of value.
	ErrWrongType = errors.New("kvstore: operation against a key holding the wrong kind of value")
)

// ScoredMember is a sorted-set member with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is a string/sorted-set/list store with per-key expiry.
// A ttl of zero means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only when it is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// Expire refreshes the TTL of an existing key; missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	// ZRevRangeWithScores returns every member, highest score first.
	ZRevRangeWithScores(ctx context.Context, key string) ([]ScoredMember, error)
	// ZRemStale removes each candidate whose score is unchanged and whose
	// member, read as a key, no longer exists. Both checks and the removal
	// happen atomically. It returns the number removed.
	ZRemStale(ctx context.Context, key string, candidates []ScoredMember) (int, error)

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)

	// Scan returns all keys matching a glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Batch queues writes and issues them in one round trip. No
	// isolation is promised; readers may observe a partial batch.
	Batch(ctx context.Context, fn func(b Batch)) error

	Ping(ctx context.Context) error
	Close() error
}

// Batch collects writes for Store.Batch.
type Batch interface {
	Set(key, value string, ttl time.Duration)
	Expire(key string, ttl time.Duration)
	Del(keys ...string)
	ZAdd(key string, score float64, member string)
	ZRem(key string, members ...string)
	RPush(key string, values ...string)
}
