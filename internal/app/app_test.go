package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/shop-image-collector/internal/api"
	"github.com/maltedev/shop-image-collector/internal/config"
	"github.com/maltedev/shop-image-collector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("COLLECT_TIMEOUT", "12s")
	t.Setenv("COLLECT_MAX_IMAGES", "8")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryOnly(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), slog.Default())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Hub)
	assert.Nil(t, a.Runs)
	assert.Nil(t, a.Relay)
	assert.Empty(t, a.HealthChecks())

	platforms := a.Hub.SupportedPlatforms()
	assert.Contains(t, platforms, models.PlatformCoupang)
	assert.Contains(t, platforms, models.PlatformShopify)

	opts := a.DefaultOptions()
	assert.Equal(t, 12*time.Second, opts.Timeout)
	assert.Equal(t, 8, opts.MaxImages)
	assert.True(t, opts.UseCache)

	// Starting without a relay must not block or panic.
	a.Start(context.Background())
}

func TestNew_UnreachableRedisFails(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := New(ctx, cfg, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestHandlers_ServeAPI(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), slog.Default())
	require.NoError(t, err)
	defer a.Close()

	router := api.NewRouter(a.Handlers(), api.RouterOptions{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/platforms", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"generic"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/collect", strings.NewReader(`{"url":"not a url"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}
