package kvstore

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type zset map[string]float64

type list []string

// MemoryStore is an in-process Store for development and tests. Values
// live in a go-cache instance so expiry behaves like the real store.
type MemoryStore struct {
	mu sync.Mutex
	c  *cache.Cache
}

// NewMemoryStore returns an empty store whose janitor sweeps expired
// keys every minute.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, time.Minute)}
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return cache.NoExpiration
	}
	return ttl
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrWrongType
	}
	return s, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Set(key, value, expiration(ttl))
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c.Add(key, value, expiration(ttl)) == nil, nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.del(keys)
	return nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key, ttl)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.c.Get(key)
	return ok, nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zadd(key, score, member)
}

func (m *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zrem(key, members)
}

func (m *MemoryStore) ZRemStale(_ context.Context, key string, candidates []ScoredMember) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, _, err := m.zset(key)
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, c := range candidates {
		score, ok := z[c.Member]
		if !ok || score != c.Score {
			continue
		}
		if _, live := m.c.Get(c.Member); live {
			continue
		}
		stale = append(stale, c.Member)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return len(stale), m.zrem(key, stale)
}

func (m *MemoryStore) ZRevRangeWithScores(_ context.Context, key string) ([]ScoredMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, _, err := m.zset(key)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMember, 0, len(z))
	for member, score := range z {
		out = append(out, ScoredMember{Member: member, Score: score})
	}
	// Redis orders equal scores by member, descending for ZREVRANGE.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Member > out[j].Member
	})
	return out, nil
}

func (m *MemoryStore) RPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rpush(key, values)
}

func (m *MemoryStore) LRange(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, _, err := m.list(key)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), l...), nil
}

func (m *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, _, err := m.list(key)
	return int64(len(l)), err
}

func (m *MemoryStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.c.Items() {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Batch applies the queued writes under a single lock.
func (m *MemoryStore) Batch(_ context.Context, fn func(b Batch)) error {
	b := &memoryBatch{}
	fn(b)

	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, op := range b.ops {
		if err := op(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// TTL reports the remaining lifetime of key; zero means no expiry.
func (m *MemoryStore) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exp, ok := m.c.GetWithExpiration(key)
	if !ok {
		return 0, false
	}
	if exp.IsZero() {
		return 0, true
	}
	return time.Until(exp), true
}

// unlocked helpers; callers hold m.mu

func (m *MemoryStore) del(keys []string) {
	for _, k := range keys {
		m.c.Delete(k)
	}
}

func (m *MemoryStore) expire(key string, ttl time.Duration) {
	v, ok := m.c.Get(key)
	if !ok {
		return
	}
	if ttl <= 0 {
		m.c.Delete(key)
		return
	}
	m.c.Set(key, v, ttl)
}

// keep returns the remaining lifetime of an existing key so in-place
// updates do not reset its expiry.
func (m *MemoryStore) keep(key string) time.Duration {
	_, exp, ok := m.c.GetWithExpiration(key)
	if !ok || exp.IsZero() {
		return cache.NoExpiration
	}
	if d := time.Until(exp); d > 0 {
		return d
	}
	return time.Nanosecond
}

func (m *MemoryStore) zset(key string) (zset, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	z, isZ := v.(zset)
	if !isZ {
		return nil, true, ErrWrongType
	}
	return z, true, nil
}

func (m *MemoryStore) zadd(key string, score float64, member string) error {
	z, exists, err := m.zset(key)
	if err != nil {
		return err
	}
	next := make(zset, len(z)+1)
	for k, v := range z {
		next[k] = v
	}
	next[member] = score

	ttl := cache.NoExpiration
	if exists {
		ttl = m.keep(key)
	}
	m.c.Set(key, next, ttl)
	return nil
}

func (m *MemoryStore) zrem(key string, members []string) error {
	z, exists, err := m.zset(key)
	if err != nil || !exists {
		return err
	}
	next := make(zset, len(z))
	for k, v := range z {
		next[k] = v
	}
	for _, member := range members {
		delete(next, member)
	}
	if len(next) == 0 {
		m.c.Delete(key)
		return nil
	}
	m.c.Set(key, next, m.keep(key))
	return nil
}

func (m *MemoryStore) list(key string) (list, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	l, isList := v.(list)
	if !isList {
		return nil, true, ErrWrongType
	}
	return l, true, nil
}

func (m *MemoryStore) rpush(key string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	l, exists, err := m.list(key)
	if err != nil {
		return err
	}
	next := make(list, 0, len(l)+len(values))
	next = append(next, l...)
	next = append(next, values...)

	ttl := cache.NoExpiration
	if exists {
		ttl = m.keep(key)
	}
	m.c.Set(key, next, ttl)
	return nil
}

type memoryBatch struct {
	ops []func(m *MemoryStore) error
}

func (b *memoryBatch) Set(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, func(m *MemoryStore) error {
		m.c.Set(key, value, expiration(ttl))
		return nil
	})
}

func (b *memoryBatch) Expire(key string, ttl time.Duration) {
	b.ops = append(b.ops, func(m *MemoryStore) error {
		m.expire(key, ttl)
		return nil
	})
}

func (b *memoryBatch) Del(keys ...string) {
	b.ops = append(b.ops, func(m *MemoryStore) error {
		m.del(keys)
		return nil
	})
}

func (b *memoryBatch) ZAdd(key string, score float64, member string) {
	b.ops = append(b.ops, func(m *MemoryStore) error {
		return m.zadd(key, score, member)
	})
}

func (b *memoryBatch) ZRem(key string, members ...string) {
	b.ops = append(b.ops, func(m *MemoryStore) error {
		return m.zrem(key, members)
	})
}

func (b *memoryBatch) RPush(key string, values ...string) {
	b.ops = append(b.ops, func(m *MemoryStore) error {
		return m.rpush(key, values)
	})
}
