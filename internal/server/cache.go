package server

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/resilience"
)

const cacheKeyPrefix = "ise:search:"

// QueryCache caches search responses in Redis. Keys incorporate the store's
// mutation sequence, so any committed mutation moves every live query onto
// fresh keys and stale entries simply age out — the cache can never serve a
// result computed against a superseded index state. A circuit breaker trips
// the Redis path after repeated failures so a dead cache degrades to direct
// evaluation instead of per-request timeouts.
type QueryCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewQueryCache wraps a connected Redis client. metrics may be nil.
func NewQueryCache(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{}),
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

// GetOrCompute returns the cached response for the key parameters, or runs
// computeFn once (concurrent identical requests are collapsed) and caches
// its result. cacheHit reports whether the response came from Redis.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	seq int64,
	terms []string,
	mode string,
	topK int,
	computeFn func() (*SearchResponse, error),
) (*SearchResponse, bool, error) {
	key := c.buildKey(seq, terms, mode, topK)
	if response, ok := c.get(ctx, key); ok {
		return response, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		if response, ok := c.get(ctx, key); ok {
			return response, nil
		}
		response, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, response)
		return response, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*SearchResponse), false, nil
}

func (c *QueryCache) get(ctx context.Context, key string) (*SearchResponse, bool) {
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.client.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			// A miss is a healthy outcome, not a breaker failure.
			data = ""
			return nil
		}
		return err
	})
	c.observeBreaker()
	if err != nil {
		c.logger.Debug("cache get skipped", "error", err)
		c.miss()
		return nil, false
	}
	if data == "" {
		c.miss()
		return nil, false
	}
	var response SearchResponse
	if err := json.Unmarshal([]byte(data), &response); err != nil {
		c.logger.Error("cache entry corrupt, ignoring", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &response, true
}

func (c *QueryCache) set(ctx context.Context, key string, response *SearchResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, string(data), c.cfg.CacheTTL)
	})
	c.observeBreaker()
	if err != nil {
		c.logger.Debug("cache set skipped", "error", err)
	}
}

// Invalidate drops every cached search response. Mutations do not need
// this — sequence-based keys already fence them off — but the operations
// endpoint exposes it for manual housekeeping.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns hit and miss counters since startup.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Ping probes the backing Redis connection.
func (c *QueryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *QueryCache) buildKey(seq int64, terms []string, mode string, topK int) string {
	sorted := make([]string, len(terms))
	copy(sorted, terms)
	sort.Strings(sorted)
	raw := fmt.Sprintf("seq=%d|mode=%s|k=%d|%s", seq, mode, topK, strings.Join(sorted, ","))
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", cacheKeyPrefix, hash[:16])
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) observeBreaker() {
	if c.metrics == nil {
		return
	}
	c.metrics.CircuitBreakerState.WithLabelValues("query-cache").Set(float64(c.breaker.GetState()))
}
