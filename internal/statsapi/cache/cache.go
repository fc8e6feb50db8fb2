// Package cache stores serialized statistics responses in Redis, keyed per
// corpus so a recompute can flush exactly the entries it made stale.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/corpusware/termstat/pkg/config"
	"github.com/corpusware/termstat/pkg/metrics"
	pkgredis "github.com/corpusware/termstat/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "stats:v1:"

// CorpusAll is the pseudo-corpus under which cross-corpus responses (the
// corpora listing) are cached. The leading underscore keeps it out of the
// namespace of real corpus names, which must start with a letter or digit.
const CorpusAll = "_all"

// Cache wraps Redis with request coalescing. Concurrent misses for the same
// key share one store query instead of stampeding the database.
type Cache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a response cache.
func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *Cache {
	return &Cache{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "stats-cache"),
	}
}

// Key builds a cache key scoped to corpus and query kind. Arguments are
// hashed so arbitrary terms and document IDs cannot produce oversized or
// unsafe Redis keys.
func Key(corpus, kind string, args ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(args, "\x00")))
	return fmt.Sprintf("%s%s:%s:%x", keyPrefix, corpus, kind, hash[:16])
}

// GetOrCompute returns the cached payload for key, or runs computeFn once
// per key across concurrent callers and caches what it returns. The second
// return reports whether the payload came from cache.
func (c *Cache) GetOrCompute(ctx context.Context, key string, computeFn func() (json.RawMessage, error)) (json.RawMessage, bool, error) {
	if data, ok := c.get(ctx, key); ok {
		return data, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if data, ok := c.get(ctx, key); ok {
			return data, nil
		}
		data, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, data)
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(json.RawMessage), false, nil
}

func (c *Cache) get(ctx context.Context, key string) (json.RawMessage, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.Inc()
		}
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return json.RawMessage(data), true
}

func (c *Cache) set(ctx context.Context, key string, data json.RawMessage) {
	if err := c.client.Set(ctx, key, []byte(data), c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// InvalidateCorpus flushes every cached response for one corpus, plus the
// cross-corpus listing, and returns the number of keys removed.
func (c *Cache) InvalidateCorpus(ctx context.Context, corpus string) (int64, error) {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+corpus+":*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating corpus %q: %w", corpus, err)
	}
	if corpus != CorpusAll {
		n, err := c.client.FlushByPattern(ctx, keyPrefix+CorpusAll+":*")
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("invalidating corpora listing: %w", err)
		}
	}
	c.logger.Info("cache invalidated", "corpus", corpus, "keys_deleted", deleted)
	return deleted, nil
}

// InvalidateAll flushes every cached statistics response.
func (c *Cache) InvalidateAll(ctx context.Context) (int64, error) {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "corpus", "*", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns the process-local hit and miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
