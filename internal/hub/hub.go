package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/maltedev/shop-image-collector/internal/cache"
	"github.com/maltedev/shop-image-collector/internal/collector"
	"github.com/maltedev/shop-image-collector/internal/models"
	"github.com/maltedev/shop-image-collector/internal/resolver"
	"golang.org/x/sync/singleflight"
)

const recordTimeout = 5 * time.Second

var ErrNoDefaultProvider = errors.New("default provider is required")

// RateLimiter paces requests per platform.
type RateLimiter interface {
	Acquire(ctx context.Context, platform models.Platform) error
	Reset(platform models.Platform)
	ResetAll()
}

// RunRecorder persists an audit trail of collections. Optional.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.CollectionRun) error
}

type Dependencies struct {
	Cache           cache.Cache
	Limiter         RateLimiter
	Resolver        collector.URLResolver
	Providers       map[models.Platform]*collector.Provider
	DefaultProvider *collector.Provider
	Recorder        RunRecorder
}

// CollectionHub is the single entry point for collecting product images.
// Collect never panics and never returns a nil result.
type CollectionHub struct {
	cache           cache.Cache
	limiter         RateLimiter
	resolver        collector.URLResolver
	providers       map[models.Platform]*collector.Provider
	defaultProvider *collector.Provider
	recorder        RunRecorder
	group           singleflight.Group
	logger          *slog.Logger
}

func New(deps Dependencies, logger *slog.Logger) (*CollectionHub, error) {
	if deps.DefaultProvider == nil {
		return nil, ErrNoDefaultProvider
	}
	if deps.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if deps.Limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	providers := make(map[models.Platform]*collector.Provider, len(deps.Providers))
	for platform, p := range deps.Providers {
		if p != nil {
			providers[platform] = p
		}
	}

	return &CollectionHub{
		cache:           deps.Cache,
		limiter:         deps.Limiter,
		resolver:        deps.Resolver,
		providers:       providers,
		defaultProvider: deps.DefaultProvider,
		recorder:        deps.Recorder,
		logger:          logger.With("component", "hub"),
	}, nil
}

// Collect returns the product images for rawURL. Failures of any kind are
// reported in the result rather than as an error.
func (h *CollectionHub) Collect(ctx context.Context, rawURL string, opts *models.Options) (result *models.CollectionResult) {
	start := time.Now()
	opts = opts.Merge()

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("collection panicked", "url", rawURL, "panic", r)
			result = models.NewFailure(models.StrategyNone, fmt.Sprintf("internal error: %v", r))
		}
		result.Timing = time.Since(start).Milliseconds()
	}()

	if err := resolver.Validate(rawURL); err != nil {
		return models.NewFailure(models.StrategyNone, err.Error())
	}

	if opts.UseCache {
		lookupCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		cached, ok := h.cache.Get(lookupCtx, rawURL)
		cancel()
		if ok {
			h.logger.Debug("cache hit", "url", rawURL, "strategy", cached.UsedStrategy)
			return cached
		}
	}

	if err := ctx.Err(); err != nil {
		return models.NewFailure(models.StrategyNone, fmt.Sprintf("collection aborted: %v", err))
	}

	// The flight is detached from the caller that started it so a cancelled
	// caller cannot fail the others waiting on the same key.
	flightCtx := context.WithoutCancel(ctx)
	ch := h.group.DoChan(flightKey(rawURL, opts), func() (interface{}, error) {
		fctx, fcancel := context.WithTimeout(flightCtx, opts.Timeout)
		defer fcancel()
		return h.collect(fctx, rawURL, opts), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			h.logger.Debug("joined in-flight collection", "url", rawURL)
		}
		// Callers of a shared flight must not see each other's mutations.
		return res.Val.(*models.CollectionResult).Clone()
	case <-ctx.Done():
		h.logger.Info("caller stopped waiting for collection", "url", rawURL, "error", ctx.Err())
		return models.NewFailure(models.StrategyNone, fmt.Sprintf("collection aborted: %v", ctx.Err()))
	}
}

func flightKey(rawURL string, opts *models.Options) string {
	return cache.NormalizeKey(rawURL) +
		"|" + opts.Timeout.String() +
		"|" + strconv.Itoa(opts.MaxImages) +
		"|" + strconv.FormatBool(opts.IncludeDetails) +
		"|" + strconv.FormatBool(opts.IncludeReviews) +
		"|" + strconv.FormatBool(opts.UseCache)
}

func (h *CollectionHub) collect(ctx context.Context, rawURL string, opts *models.Options) (result *models.CollectionResult) {
	start := time.Now()
	platform := models.PlatformGeneric

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("collection panicked", "url", rawURL, "panic", r)
			result = models.NewFailure(models.StrategyNone, fmt.Sprintf("internal error: %v", r))
		}
		result.Timing = time.Since(start).Milliseconds()
		h.record(rawURL, platform, result)
	}()

	resolved := h.resolver.Resolve(ctx, rawURL)
	platform = resolved.Platform
	if resolved.FinalURL == "" {
		resolved.FinalURL = rawURL
	}

	if resolved.IsErrorPage {
		h.logger.Info("error page detected", "url", rawURL, "reason", resolved.ErrorReason)
		return collector.ErrorPageResult(resolved)
	}

	provider := h.providerFor(resolved.Platform)

	if err := h.limiter.Acquire(ctx, resolved.Platform); err != nil {
		h.logger.Warn("rate limit wait aborted", "platform", resolved.Platform, "error", err)
		failure := models.NewFailure(models.StrategyNone, fmt.Sprintf("rate limit wait aborted: %v", err))
		failure.ResolvedURL = resolved.FinalURL
		return failure
	}

	result = provider.CollectResolved(ctx, resolved, opts)
	result.ResolvedURL = resolved.FinalURL

	if result.Success && opts.UseCache {
		h.cache.Set(ctx, rawURL, result)
	}

	h.logger.Info("collection finished",
		"url", rawURL,
		"platform", resolved.Platform,
		"provider", provider.Name(),
		"success", result.Success,
		"strategy", result.UsedStrategy,
		"images", len(result.Images),
		"duration", time.Since(start))

	return result
}

func (h *CollectionHub) providerFor(platform models.Platform) *collector.Provider {
	if p, ok := h.providers[platform]; ok {
		return p
	}
	h.logger.Debug("no provider for platform, using default", "platform", platform, "default", h.defaultProvider.Name())
	return h.defaultProvider
}

func (h *CollectionHub) record(rawURL string, platform models.Platform, result *models.CollectionResult) {
	if h.recorder == nil {
		return
	}

	// Detached from the request so a cancelled caller still leaves a record.
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := h.recorder.RecordRun(ctx, models.NewCollectionRun(rawURL, platform, result)); err != nil {
		h.logger.Warn("failed to record run", "url", rawURL, "error", err)
	}
}

// SupportedPlatforms lists platforms with a dedicated provider, sorted.
func (h *CollectionHub) SupportedPlatforms() []models.Platform {
	platforms := make([]models.Platform, 0, len(h.providers))
	for p := range h.providers {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}

// ProviderInfo describes a registered provider and its strategy order.
type ProviderInfo struct {
	Platform   models.Platform `json:"platform"`
	Provider   string          `json:"provider"`
	Strategies []string        `json:"strategies"`
	Default    bool            `json:"default,omitempty"`
}

func (h *CollectionHub) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(h.providers)+1)
	for _, platform := range h.SupportedPlatforms() {
		p := h.providers[platform]
		out = append(out, ProviderInfo{Platform: platform, Provider: p.Name(), Strategies: p.StrategyNames()})
	}
	out = append(out, ProviderInfo{
		Platform:   h.defaultProvider.Platform(),
		Provider:   h.defaultProvider.Name(),
		Strategies: h.defaultProvider.StrategyNames(),
		Default:    true,
	})
	return out
}

func (h *CollectionHub) ClearCache(ctx context.Context) {
	h.cache.Clear(ctx)
}

// Forget removes the cached result for one URL.
func (h *CollectionHub) Forget(ctx context.Context, rawURL string) bool {
	return h.cache.Delete(ctx, rawURL)
}

func (h *CollectionHub) CacheSize(ctx context.Context) int {
	return h.cache.Len(ctx)
}

func (h *CollectionHub) ResetRateLimits() {
	h.limiter.ResetAll()
}

func (h *CollectionHub) ResetRateLimit(platform models.Platform) {
	h.limiter.Reset(platform)
}
