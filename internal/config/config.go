package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/shop-image-collector/internal/ratelimit"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	Server    ServerConfig
	Collector CollectorConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Browser   BrowserConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type CollectorConfig struct {
	Timeout         time.Duration
	MaxImages       int
	ResolverTimeout time.Duration
	FetchTimeout    time.Duration
}

type CacheConfig struct {
	Backend string
	TTL     time.Duration
	MaxSize int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig enables run history when URL is set.
type DatabaseConfig struct {
	URL           string
	MaxConns      int32
	RunStream     string
	RelayInterval time.Duration
	StreamMaxLen  int64
}

type BrowserConfig struct {
	Enabled     bool
	Headless    bool
	Timeout     time.Duration
	ScrollSteps int
	ProxyServer string
}

type RateLimitConfig struct {
	// DefaultRPS applies to platforms without a built-in limit.
	DefaultRPS float64
	Burst      int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Collector: CollectorConfig{
			Timeout:         getDurationOrDefault("COLLECT_TIMEOUT", 30*time.Second),
			MaxImages:       getIntOrDefault("COLLECT_MAX_IMAGES", 30),
			ResolverTimeout: getDurationOrDefault("RESOLVER_TIMEOUT", 10*time.Second),
			FetchTimeout:    getDurationOrDefault("FETCH_TIMEOUT", 15*time.Second),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(getEnvOrDefault("CACHE_BACKEND", CacheBackendMemory)),
			TTL:     getDurationOrDefault("CACHE_TTL", 24*time.Hour),
			MaxSize: getIntOrDefault("CACHE_MAX_SIZE", 1000),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			URL:           getEnvOrDefault("DATABASE_URL", ""),
			MaxConns:      int32(getIntOrDefault("DATABASE_MAX_CONNS", 10)),
			RunStream:     getEnvOrDefault("RUN_STREAM", "stream:collection_runs"),
			RelayInterval: getDurationOrDefault("RELAY_INTERVAL", 5*time.Second),
			StreamMaxLen:  int64(getIntOrDefault("RUN_STREAM_MAX_LEN", 100000)),
		},
		Browser: BrowserConfig{
			Enabled:     getBoolOrDefault("BROWSER_ENABLED", false),
			Headless:    getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:     getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ScrollSteps: getIntOrDefault("BROWSER_SCROLL_STEPS", 5),
			ProxyServer: getEnvOrDefault("BROWSER_PROXY", ""),
		},
		RateLimit: RateLimitConfig{
			DefaultRPS: getFloatOrDefault("RATE_LIMIT_DEFAULT_RPS", 0.5),
			Burst:      getIntOrDefault("RATE_LIMIT_BURST", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %q", c.Server.Port)
	}

	if c.Collector.Timeout <= 0 {
		return fmt.Errorf("COLLECT_TIMEOUT must be positive")
	}

	if c.Collector.MaxImages < 1 {
		return fmt.Errorf("COLLECT_MAX_IMAGES must be at least 1")
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
		if c.Cache.MaxSize < 1 {
			return fmt.Errorf("CACHE_MAX_SIZE must be at least 1")
		}
	case CacheBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q (want memory or redis)", c.Cache.Backend)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}

	if c.RateLimit.DefaultRPS < ratelimit.MinRPS {
		return fmt.Errorf("RATE_LIMIT_DEFAULT_RPS must be at least %g", ratelimit.MinRPS)
	}

	if c.Browser.ScrollSteps < 0 {
		return fmt.Errorf("BROWSER_SCROLL_STEPS cannot be negative")
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// HistoryEnabled reports whether collection runs are persisted.
func (c *Config) HistoryEnabled() bool {
	return c.Database.URL != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
