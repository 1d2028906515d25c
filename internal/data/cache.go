package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SeriesCache caches candle series in front of a slower CandleRepo so
// repeated comparison runs over the same window skip the database.
type SeriesCache interface {
	Get(ctx context.Context, symbol string, tr TimeRange) ([]Candle, bool)
	Set(ctx context.Context, symbol string, tr TimeRange, candles []Candle) error
	Stats() CacheStats
}

// CacheStats tracks cache effectiveness for the run summary.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// RedisSeriesCache implements SeriesCache on Redis with JSON-encoded
// entries and a fixed TTL.
type RedisSeriesCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	stats     CacheStats
}

// NewRedisSeriesCache connects a series cache to Redis.
func NewRedisSeriesCache(addr, password string, db int, ttl time.Duration) *RedisSeriesCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	return &RedisSeriesCache{
		client:    client,
		keyPrefix: "portrun:candles:",
		ttl:       ttl,
	}
}

func (c *RedisSeriesCache) key(symbol string, tr TimeRange) string {
	return fmt.Sprintf("%s%s:%d:%d", c.keyPrefix, symbol, tr.From.Unix(), tr.To.Unix())
}

// Get returns the cached series for symbol/window, if present.
func (c *RedisSeriesCache) Get(ctx context.Context, symbol string, tr TimeRange) ([]Candle, bool) {
	raw, err := c.client.Get(ctx, c.key(symbol, tr)).Result()
	if err != nil {
		if err != redis.Nil {
			c.stats.Errors++
			log.Warn().Err(err).Str("symbol", symbol).Msg("redis get failed")
		}
		c.stats.Misses++
		return nil, false
	}

	var candles []Candle
	if err := json.Unmarshal([]byte(raw), &candles); err != nil {
		c.stats.Errors++
		log.Warn().Err(err).Str("symbol", symbol).Msg("corrupt cache entry, treating as miss")
		return nil, false
	}

	c.stats.Hits++
	return candles, true
}

// Set stores the series for symbol/window with the configured TTL.
func (c *RedisSeriesCache) Set(ctx context.Context, symbol string, tr TimeRange, candles []Candle) error {
	raw, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("encode candle series: %w", err)
	}

	if err := c.client.Set(ctx, c.key(symbol, tr), raw, c.ttl).Err(); err != nil {
		c.stats.Errors++
		return fmt.Errorf("cache candle series for %s: %w", symbol, err)
	}
	c.stats.Sets++
	return nil
}

func (c *RedisSeriesCache) Stats() CacheStats { return c.stats }

// Close releases the Redis connection pool.
func (c *RedisSeriesCache) Close() error { return c.client.Close() }

// MemorySeriesCache is an in-process SeriesCache used in tests and when
// no Redis address is configured.
type MemorySeriesCache struct {
	entries map[string][]Candle
	stats   CacheStats
}

// NewMemorySeriesCache creates an empty in-memory cache.
func NewMemorySeriesCache() *MemorySeriesCache {
	return &MemorySeriesCache{entries: make(map[string][]Candle)}
}

func (c *MemorySeriesCache) key(symbol string, tr TimeRange) string {
	return fmt.Sprintf("%s:%d:%d", symbol, tr.From.Unix(), tr.To.Unix())
}

func (c *MemorySeriesCache) Get(_ context.Context, symbol string, tr TimeRange) ([]Candle, bool) {
	candles, ok := c.entries[c.key(symbol, tr)]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return candles, true
}

func (c *MemorySeriesCache) Set(_ context.Context, symbol string, tr TimeRange, candles []Candle) error {
	c.entries[c.key(symbol, tr)] = candles
	c.stats.Sets++
	return nil
}

func (c *MemorySeriesCache) Stats() CacheStats { return c.stats }

// CachedRepo layers a SeriesCache over a CandleRepo.
type CachedRepo struct {
	repo  CandleRepo
	cache SeriesCache
}

// NewCachedRepo wraps repo with cache.
func NewCachedRepo(repo CandleRepo, cache SeriesCache) *CachedRepo {
	return &CachedRepo{repo: repo, cache: cache}
}

// ListCandles serves from cache when possible, otherwise loads from the
// underlying repository and populates the cache. Cache write failures are
// logged, not fatal.
func (r *CachedRepo) ListCandles(ctx context.Context, symbol string, tr TimeRange, limit int) ([]Candle, error) {
	if limit <= 0 {
		if candles, ok := r.cache.Get(ctx, symbol, tr); ok {
			return candles, nil
		}
	}

	candles, err := r.repo.ListCandles(ctx, symbol, tr, limit)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		if err := r.cache.Set(ctx, symbol, tr, candles); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("failed to populate series cache")
		}
	}
	return candles, nil
}

// InsertBatch passes through to the underlying repository.
func (r *CachedRepo) InsertBatch(ctx context.Context, symbol string, candles []Candle) error {
	return r.repo.InsertBatch(ctx, symbol, candles)
}
