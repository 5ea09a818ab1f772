package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	geohash "github.com/TomiHiltunen/geohash-golang"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/go-hazard-watch/internal/models"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
)

// KeyPrecision is the geohash length used for cache keys (cells of roughly
// 150m x 150m).
const KeyPrecision = 7

const redisKeyPrefix = "hazard-watch:label:"

// CachedLabeler fronts a Labeler with an in-process LRU and, when a Redis
// client is given, a shared second tier. Only non-empty labels are cached.
type CachedLabeler struct {
	inner    Labeler
	local    *lru.Cache[string, string]
	redis    *redis.Client
	redisTTL time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewCachedLabeler(inner Labeler, maxEntries int, rc *redis.Client, redisTTL time.Duration, metrics *observability.Metrics, logger *slog.Logger) (*CachedLabeler, error) {
	cache, err := lru.New[string, string](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("label cache: %w", err)
	}
	return &CachedLabeler{
		inner:    inner,
		local:    cache,
		redis:    rc,
		redisTTL: redisTTL,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func cacheKey(c models.Coordinate) string {
	return geohash.EncodeWithPrecision(c.Latitude, c.Longitude, KeyPrecision)
}

func (c *CachedLabeler) Label(ctx context.Context, coord models.Coordinate) (string, error) {
	key := cacheKey(coord)

	if label, ok := c.local.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("lru", "hit").Inc()
		return label, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("lru", "miss").Inc()

	if c.redis != nil {
		label, err := c.redis.Get(ctx, redisKeyPrefix+key).Result()
		switch {
		case err == nil && label != "":
			c.metrics.GeocodeCache.WithLabelValues("redis", "hit").Inc()
			c.local.Add(key, label)
			return label, nil
		case err != nil && !errors.Is(err, redis.Nil):
			// A broken shared tier only costs a remote lookup.
			c.logger.Warn("label cache read failed", "key", key, "error", err)
		}
		c.metrics.GeocodeCache.WithLabelValues("redis", "miss").Inc()
	}

	label, err := c.inner.Label(ctx, coord)
	if err != nil || label == "" {
		return label, err
	}

	c.local.Add(key, label)
	if c.redis != nil {
		if err := c.redis.Set(ctx, redisKeyPrefix+key, label, c.redisTTL).Err(); err != nil {
			c.logger.Warn("label cache write failed", "key", key, "error", err)
		}
	}
	return label, nil
}
