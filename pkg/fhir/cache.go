package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pharmagent/medbench/pkg/logging"
)

const DefaultCacheTTL = 10 * time.Minute

// Cache is a byte-oriented key/value store with expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedStore serves repeated queries from a Cache. The benchmark asks the
// same patient/code pair once per task variant, so a batch run hits the
// store far less with it in front.
type CachedStore struct {
	next  Store
	cache Cache
	ttl   time.Duration
}

var _ Store = &CachedStore{}

// NewCachedStore wraps next with cache. A non-positive ttl uses
// DefaultCacheTTL.
func NewCachedStore(next Store, cache Cache, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{next: next, cache: cache, ttl: ttl}
}

func (s *CachedStore) Observations(ctx context.Context, q Query) ([]Observation, error) {
	key := fmt.Sprintf("fhir:obs:%s:%s:%s", q.Patient, q.Code, q.Date)

	var cached []Observation
	if s.lookup(ctx, key, &cached) {
		return cached, nil
	}

	obs, err := s.next.Observations(ctx, q)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, obs)
	return obs, nil
}

func (s *CachedStore) Patient(ctx context.Context, id string) (*Patient, error) {
	key := "fhir:patient:" + id

	var cached Patient
	if s.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	p, err := s.next.Patient(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, p)
	return p, nil
}

// lookup reports whether key was found and decoded into out. Cache errors
// are logged and treated as misses.
func (s *CachedStore) lookup(ctx context.Context, key string, out any) bool {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("fhir cache read failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("discarding undecodable fhir cache entry")
		return false
	}
	return true
}

func (s *CachedStore) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("fhir cache write failed")
	}
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

var _ Cache = &MemoryCache{}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{value: value, expires: c.now().Add(ttl)}
	return nil
}

// RedisCache is a Cache backed by Redis, letting several benchmark processes
// share one warm cache.
type RedisCache struct {
	client *redis.Client
}

var _ Cache = &RedisCache{}

// RedisOptions configures NewRedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return &RedisCache{client: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
