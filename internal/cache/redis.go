package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/maltedev/shop-image-collector/internal/models"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "collector:result:"

// RedisCache shares results between collector instances. Capacity is left to
// the server's maxmemory policy; TTL is enforced with key expiry.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "cache", "backend", "redis"),
	}
}

func redisKey(rawURL string) string {
	sum := sha1.Sum([]byte(NormalizeKey(rawURL)))
	return redisKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, rawURL string) (*models.CollectionResult, bool) {
	data, err := c.client.Get(ctx, redisKey(rawURL)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("failed to read cache entry", "url", rawURL, "error", err)
		}
		return nil, false
	}

	var result models.CollectionResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("failed to decode cache entry", "url", rawURL, "error", err)
		return nil, false
	}
	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, rawURL string, result *models.CollectionResult) {
	if result == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", "url", rawURL, "error", err)
		return
	}
	if err := c.client.Set(ctx, redisKey(rawURL), data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to write cache entry", "url", rawURL, "error", err)
	}
}

func (c *RedisCache) Has(ctx context.Context, rawURL string) bool {
	n, err := c.client.Exists(ctx, redisKey(rawURL)).Result()
	if err != nil {
		c.logger.Warn("failed to check cache entry", "url", rawURL, "error", err)
		return false
	}
	return n > 0
}

func (c *RedisCache) Delete(ctx context.Context, rawURL string) bool {
	n, err := c.client.Del(ctx, redisKey(rawURL)).Result()
	if err != nil {
		c.logger.Warn("failed to delete cache entry", "url", rawURL, "error", err)
		return false
	}
	return n > 0
}

func (c *RedisCache) Clear(ctx context.Context) {
	var removed int64
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		n, err := c.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			c.logger.Warn("failed to delete cache entry", "key", iter.Val(), "error", err)
			continue
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		c.logger.Error("failed to scan cache keys", "error", err)
	}
	c.logger.Info("cache cleared", "removed", removed)
}

func (c *RedisCache) Len(ctx context.Context) int {
	count := 0
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("failed to scan cache keys", "error", err)
	}
	return count
}
