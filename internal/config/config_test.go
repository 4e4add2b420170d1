package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Collector.Timeout)
	assert.Equal(t, 30, cfg.Collector.MaxImages)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.False(t, cfg.Browser.Enabled)
	assert.False(t, cfg.HistoryEnabled())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("COLLECT_TIMEOUT", "45s")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("DATABASE_URL", "postgres://collector@localhost/collector")
	t.Setenv("BROWSER_ENABLED", "true")
	t.Setenv("RATE_LIMIT_DEFAULT_RPS", "2.5")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Collector.Timeout)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.True(t, cfg.HistoryEnabled())
	assert.True(t, cfg.Browser.Enabled)
	assert.InDelta(t, 2.5, cfg.RateLimit.DefaultRPS, 0.0001)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("COLLECT_MAX_IMAGES", "lots")
	t.Setenv("CACHE_TTL", "forever")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Collector.MaxImages)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad port", map[string]string{"SERVER_PORT": "http"}, "SERVER_PORT"},
		{"port out of range", map[string]string{"SERVER_PORT": "70000"}, "SERVER_PORT"},
		{"redis without addr", map[string]string{"CACHE_BACKEND": "redis"}, "REDIS_ADDR"},
		{"unknown backend", map[string]string{"CACHE_BACKEND": "memcached"}, "CACHE_BACKEND"},
		{"zero max images", map[string]string{"COLLECT_MAX_IMAGES": "0"}, "COLLECT_MAX_IMAGES"},
		{"negative rps", map[string]string{"RATE_LIMIT_DEFAULT_RPS": "-1"}, "RATE_LIMIT_DEFAULT_RPS"},
		{"rps too small to represent", map[string]string{"RATE_LIMIT_DEFAULT_RPS": "0.0001"}, "RATE_LIMIT_DEFAULT_RPS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
