package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maltedev/shop-image-collector/internal/api"
	"github.com/maltedev/shop-image-collector/internal/browser"
	"github.com/maltedev/shop-image-collector/internal/cache"
	"github.com/maltedev/shop-image-collector/internal/collector"
	"github.com/maltedev/shop-image-collector/internal/config"
	"github.com/maltedev/shop-image-collector/internal/database"
	"github.com/maltedev/shop-image-collector/internal/hub"
	"github.com/maltedev/shop-image-collector/internal/models"
	"github.com/maltedev/shop-image-collector/internal/ratelimit"
	"github.com/maltedev/shop-image-collector/internal/resolver"
	"github.com/redis/go-redis/v9"
)

// App owns every long-lived dependency of the collector.
type App struct {
	Hub     *hub.CollectionHub
	Limiter *ratelimit.PlatformLimiter
	Runs    *database.RunRepository
	Relay   *database.Relay

	cfg     *config.Config
	redis   *redis.Client
	db      *database.DB
	browser *browser.Browser
	logger  *slog.Logger
}

// New connects the optional backends named in cfg and wires the hub.
// Redis and Postgres failures are fatal once configured. A browser that
// fails to launch only disables the render strategies.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	if cfg.HistoryEnabled() {
		a.db, err = database.New(ctx, database.Config{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		if err := a.db.Migrate(ctx); err != nil {
			return nil, err
		}
		a.Runs = database.NewRunRepository(a.db, cfg.Database.RunStream)

		if a.redis != nil {
			a.Relay = database.NewRelay(a.db, a.redis, logger, database.RelayConfig{
				PollInterval: cfg.Database.RelayInterval,
				BatchSize:    100,
				MaxStreamLen: cfg.Database.StreamMaxLen,
			})
		}
	}

	var renderer browser.Renderer
	if cfg.Browser.Enabled {
		opts := browser.DefaultOptions()
		opts.Headless = cfg.Browser.Headless
		opts.Timeout = cfg.Browser.Timeout
		opts.ScrollSteps = cfg.Browser.ScrollSteps
		opts.ProxyServer = cfg.Browser.ProxyServer

		b, err := browser.New(opts, logger)
		if err != nil {
			logger.Warn("browser unavailable, render strategies disabled", "error", err)
		} else {
			a.browser = b
			renderer = b
		}
	}

	httpClient := &http.Client{Timeout: cfg.Collector.FetchTimeout}
	res := resolver.New(resolver.Options{
		Client:        httpClient,
		FollowTimeout: cfg.Collector.ResolverTimeout,
	}, logger)

	registry := collector.DefaultProviders(collector.Dependencies{
		Resolver: res,
		Fetcher:  collector.NewFetcher(httpClient),
		Renderer: renderer,
		Logger:   logger,
	})

	a.Limiter = ratelimit.New(ratelimit.DefaultLimits,
		ratelimit.PerSecond(cfg.RateLimit.DefaultRPS, cfg.RateLimit.Burst), logger)

	deps := hub.Dependencies{
		Cache:           a.newCache(),
		Limiter:         a.Limiter,
		Resolver:        res,
		Providers:       registry.Providers,
		DefaultProvider: registry.Default,
	}
	if a.Runs != nil {
		deps.Recorder = a.Runs
	}

	a.Hub, err = hub.New(deps, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("collector ready",
		"platforms", len(registry.Providers),
		"cache", cfg.Cache.Backend,
		"history", a.Runs != nil,
		"relay", a.Relay != nil,
		"browser", a.browser != nil,
	)

	return a, nil
}

func (a *App) newCache() cache.Cache {
	if a.cfg.Cache.Backend == config.CacheBackendRedis {
		return cache.NewRedisCache(a.redis, a.cfg.Cache.TTL, a.logger)
	}
	return cache.NewMemoryCache(a.cfg.Cache.TTL, a.cfg.Cache.MaxSize, a.logger)
}

// DefaultOptions applies the configured timeout and image limit.
func (a *App) DefaultOptions() models.Options {
	opts := *models.DefaultOptions()
	opts.Timeout = a.cfg.Collector.Timeout
	opts.MaxImages = a.cfg.Collector.MaxImages
	return opts
}

// Start runs the outbox relay until ctx is done. It is a no-op without one.
func (a *App) Start(ctx context.Context) {
	if a.Relay == nil {
		return
	}
	go func() {
		if err := a.Relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("relay stopped with error", "error", err)
		}
	}()
}

// HealthChecks returns one check per configured backend.
func (a *App) HealthChecks() map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck)
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	if a.db != nil {
		checks["database"] = a.db.Ping
	}
	if a.Relay != nil {
		checks["outbox"] = func(ctx context.Context) error {
			counts, err := a.Relay.Counts(ctx)
			if err != nil {
				return err
			}
			if counts.DeadLetter > 100 {
				return fmt.Errorf("%d dead letter events", counts.DeadLetter)
			}
			return nil
		}
	}
	return checks
}

// Handlers builds the HTTP handlers over this app.
func (a *App) Handlers() *api.Handlers {
	var runs api.RunStore
	if a.Runs != nil {
		runs = a.Runs
	}
	h := api.NewHandlers(a.Hub, runs, a.Limiter, a.HealthChecks(), a.logger)
	h.SetDefaultOptions(a.DefaultOptions())
	return h
}

func (a *App) Close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("failed to close browser", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
}
