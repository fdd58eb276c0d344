// internal/gender/cache.go
package gender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Corphon/SceneBechdel/internal/utils"
)

// LookupCache stores performer lookups between runs.
type LookupCache interface {
	Get(ctx context.Context, key string) (PerformerInfo, bool, error)
	Set(ctx context.Context, key string, info PerformerInfo) error
}

// CacheKey identifies one (movie, character) lookup.
func CacheKey(movie, character string) string {
	return strings.ToLower(movie) + "\x1f" + strings.ToLower(character)
}

// MemoryCache is an in-process LookupCache with expiry and least recently
// read eviction.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	maxSize    int
	expiration time.Duration
}

type cacheEntry struct {
	info      PerformerInfo
	createdAt time.Time
	lastRead  time.Time
}

// NewMemoryCache creates a cache; non-positive arguments pick 1000 entries
// and a one hour expiry.
func NewMemoryCache(maxSize int, expiration time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if expiration <= 0 {
		expiration = time.Hour
	}
	return &MemoryCache{
		entries:    make(map[string]*cacheEntry),
		maxSize:    maxSize,
		expiration: expiration,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (PerformerInfo, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return PerformerInfo{}, false, nil
	}
	if time.Since(entry.createdAt) > c.expiration {
		delete(c.entries, key)
		return PerformerInfo{}, false, nil
	}
	entry.lastRead = time.Now()
	return entry.info, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, info PerformerInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.entries[key] = &cacheEntry{info: info, createdAt: now, lastRead: now}
	if len(c.entries) > c.maxSize {
		c.evict(max(1, c.maxSize/5))
	}
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evict drops the count least recently read entries. Caller holds mu.
func (c *MemoryCache) evict(count int) {
	type keyAge struct {
		key  string
		read time.Time
	}
	ages := make([]keyAge, 0, len(c.entries))
	for k, e := range c.entries {
		ages = append(ages, keyAge{k, e.lastRead})
	}
	sort.Slice(ages, func(i, j int) bool {
		return ages[i].read.Before(ages[j].read)
	})
	for i := 0; i < count && i < len(ages); i++ {
		delete(c.entries, ages[i].key)
	}
}

// RedisCache keeps lookups in Redis as JSON strings with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// ConnectRedis opens a client for addr and checks it answers.
func ConnectRedis(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisCache(client, ttl), nil
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "bechdel:performer:", ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (PerformerInfo, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return PerformerInfo{}, false, nil
	}
	if err != nil {
		return PerformerInfo{}, false, fmt.Errorf("error reading lookup cache: %w", err)
	}

	var info PerformerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return PerformerInfo{}, false, fmt.Errorf("failed to decode cached lookup: %w", err)
	}
	return info, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, info PerformerInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal lookup: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("error writing lookup cache: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// CachedLookup serves lookups from a cache and fills it on success.
// Cache errors are logged and otherwise ignored.
type CachedLookup struct {
	next    PerformerLookup
	cache   LookupCache
	metrics *utils.PipelineMetrics
	logger  *utils.Logger
}

func NewCachedLookup(next PerformerLookup, cache LookupCache, metrics *utils.PipelineMetrics, logger *utils.Logger) *CachedLookup {
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &CachedLookup{next: next, cache: cache, metrics: metrics, logger: logger}
}

func (l *CachedLookup) Lookup(ctx context.Context, movie, character string) (PerformerInfo, error) {
	key := CacheKey(movie, character)

	info, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		l.logger.Warn("lookup cache read failed", map[string]interface{}{"error": err.Error()})
	} else if ok {
		l.metrics.Collector().IncrementCounter(utils.MetricLookupsCached)
		return info, nil
	}

	info, err = l.next.Lookup(ctx, movie, character)
	if err != nil {
		return info, err
	}

	if err := l.cache.Set(ctx, key, info); err != nil {
		l.logger.Warn("lookup cache write failed", map[string]interface{}{"error": err.Error()})
	}
	return info, nil
}
