package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/shop-image-collector/internal/models"
)

type entry struct {
	key       string
	result    *models.CollectionResult
	timestamp time.Time
}

func (e *entry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.timestamp) > ttl
}

// MemoryCache is a bounded in-process cache with lazy TTL expiry. When full,
// the oldest inserted entry is evicted; reads do not change eviction order.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List
	items   map[string]*list.Element
	now     func() time.Time
	logger  *slog.Logger
}

func NewMemoryCache(ttl time.Duration, maxSize int, logger *slog.Logger) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryCache{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
		logger:  logger.With("component", "cache", "backend", "memory"),
	}
}

func (c *MemoryCache) Get(_ context.Context, rawURL string) (*models.CollectionResult, bool) {
	key := NormalizeKey(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}

	e := el.Value.(*entry)
	if e.expired(c.now(), c.ttl) {
		c.removeElement(el)
		c.logger.Debug("cache entry expired", "key", key)
		return nil, false
	}

	return e.result.Clone(), true
}

func (c *MemoryCache) Set(_ context.Context, rawURL string, result *models.CollectionResult) {
	if result == nil {
		return
	}
	key := NormalizeKey(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.result = result.Clone()
		e.timestamp = c.now()
		return
	}

	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Front(); oldest != nil {
			c.logger.Debug("evicting oldest cache entry", "key", oldest.Value.(*entry).key)
			c.removeElement(oldest)
		}
	}

	el := c.order.PushBack(&entry{
		key:       key,
		result:    result.Clone(),
		timestamp: c.now(),
	})
	c.items[key] = el
}

func (c *MemoryCache) Has(ctx context.Context, rawURL string) bool {
	_, ok := c.Get(ctx, rawURL)
	return ok
}

func (c *MemoryCache) Delete(_ context.Context, rawURL string) bool {
	key := NormalizeKey(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.logger.Info("cache cleared")
}

// Len counts stored entries, including expired ones not yet read.
func (c *MemoryCache) Len(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
