package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SnapshotSource serves the full regional site list.
type SnapshotSource interface {
	Endpoint() string
	FetchSites(ctx context.Context) ([]SitePrice, error)
}

// SnapshotCache stores decoded site lists by key.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]SitePrice, bool, error)
	Set(ctx context.Context, key string, sites []SitePrice, ttl time.Duration) error
}

// Cached answers every grade from one feed download until the snapshot expires.
// The feed returns all grades per request, so a run touching five grades and ten users
// would otherwise download the same snapshot fifteen times.
type Cached struct {
	source SnapshotSource
	cache  SnapshotCache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCached wraps source with cache.
func NewCached(source SnapshotSource, cache SnapshotCache, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "feed_cache").Logger(),
	}
}

// FetchSamples serves fuelID from the cached snapshot, downloading it on a miss. Cache
// failures fall through to the feed.
func (c *Cached) FetchSamples(ctx context.Context, fuelID int) ([]float64, error) {
	key := "fuelwatch:snapshot:" + c.source.Endpoint()

	sites, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("snapshot cache read failed")
	}
	if ok {
		return filterGrade(sites, fuelID), nil
	}

	sites, err = c.source.FetchSites(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, sites, c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("snapshot cache write failed")
	}
	return filterGrade(sites, fuelID), nil
}

// MemoryCache keeps snapshots in process.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	sites   []SitePrice
	expires time.Time
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get returns a live entry.
func (m *MemoryCache) Get(_ context.Context, key string) ([]SitePrice, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.sites, true, nil
}

// Set stores sites for ttl.
func (m *MemoryCache) Set(_ context.Context, key string, sites []SitePrice, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{sites: sites, expires: m.now().Add(ttl)}
	return nil
}

// RedisCache shares snapshots between processes, e.g. a `run` followed by a `preview`.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Close releases the connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Get reads a snapshot; a missing key is a miss, not an error.
func (r *RedisCache) Get(ctx context.Context, key string) ([]SitePrice, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get snapshot from redis: %w", err)
	}

	var sites []SitePrice
	if err := json.Unmarshal(data, &sites); err != nil {
		return nil, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return sites, true, nil
}

// Set writes a snapshot with expiry.
func (r *RedisCache) Set(ctx context.Context, key string, sites []SitePrice, ttl time.Duration) error {
	data, err := json.Marshal(sites)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot in redis: %w", err)
	}
	return nil
}

var (
	_ SampleFetcher  = (*Cached)(nil)
	_ SnapshotSource = (*Feed)(nil)
	_ SnapshotCache  = (*MemoryCache)(nil)
	_ SnapshotCache  = (*RedisCache)(nil)
)
