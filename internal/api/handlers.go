package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/maltedev/shop-image-collector/internal/hub"
	"github.com/maltedev/shop-image-collector/internal/models"
	"github.com/maltedev/shop-image-collector/internal/ratelimit"
)

const maxBatchURLs = 50

var ErrHistoryDisabled = errors.New("run history is disabled")

// Collector is the slice of the collection hub the API needs.
type Collector interface {
	Collect(ctx context.Context, rawURL string, opts *models.Options) *models.CollectionResult
	CollectBatch(ctx context.Context, urls []string, opts *models.Options, concurrency int) []hub.BatchItem
	Providers() []hub.ProviderInfo
	ClearCache(ctx context.Context)
	Forget(ctx context.Context, rawURL string) bool
	CacheSize(ctx context.Context) int
	ResetRateLimits()
	ResetRateLimit(platform models.Platform)
}

// RunStore serves collection history. Nil when DATABASE_URL is unset.
type RunStore interface {
	ListRecent(ctx context.Context, platform models.Platform, limit int) ([]*models.CollectionRun, error)
	Stats(ctx context.Context) ([]models.PlatformStats, error)
}

type LimiterStats interface {
	Stats() []ratelimit.BucketStats
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	hub      Collector
	runs     RunStore
	limiter  LimiterStats
	checks   map[string]HealthCheck
	defaults models.Options
	logger   *slog.Logger
}

func NewHandlers(collector Collector, runs RunStore, limiter LimiterStats, checks map[string]HealthCheck, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		hub:      collector,
		runs:     runs,
		limiter:  limiter,
		checks:   checks,
		defaults: *models.DefaultOptions(),
		logger:   logger.With("component", "api"),
	}
}

// SetDefaultOptions replaces the options used for fields a request omits.
func (h *Handlers) SetDefaultOptions(opts models.Options) {
	h.defaults = opts
}

// CollectRequest is the body of POST /api/v1/collect. Omitted options keep
// their defaults.
type CollectRequest struct {
	URL     string          `json:"url"`
	Options *models.Options `json:"options,omitempty"`
}

// Collect runs one collection. Well formed requests always get 200; the
// outcome is described by the result itself.
func (h *Handlers) Collect(w http.ResponseWriter, r *http.Request) {
	defaults := h.defaults
	req := CollectRequest{Options: &defaults}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	result := h.hub.Collect(r.Context(), req.URL, req.Options)
	if !result.Success {
		h.logger.Info("collection failed", "url", req.URL, "error", result.Error, "error_page", result.IsErrorPage)
	}

	h.respondJSON(w, http.StatusOK, result)
}

type BatchRequest struct {
	URLs        []string        `json:"urls"`
	Options     *models.Options `json:"options,omitempty"`
	Concurrency int             `json:"concurrency,omitempty"`
}

type BatchResponse struct {
	Items     []hub.BatchItem `json:"items"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

// CollectBatch runs several collections with bounded concurrency.
func (h *Handlers) CollectBatch(w http.ResponseWriter, r *http.Request) {
	defaults := h.defaults
	req := BatchRequest{Options: &defaults}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		h.respondError(w, http.StatusBadRequest, "urls is required")
		return
	}
	if len(urls) > maxBatchURLs {
		h.respondError(w, http.StatusBadRequest, "too many urls (max "+strconv.Itoa(maxBatchURLs)+")")
		return
	}

	items := h.hub.CollectBatch(r.Context(), urls, req.Options, req.Concurrency)

	resp := BatchResponse{Items: items}
	for _, item := range items {
		if item.Result.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type PlatformsResponse struct {
	Platforms  []hub.ProviderInfo      `json:"platforms"`
	CacheSize  int                     `json:"cache_size"`
	RateLimits []ratelimit.BucketStats `json:"rate_limits,omitempty"`
}

func (h *Handlers) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	resp := PlatformsResponse{
		Platforms: h.hub.Providers(),
		CacheSize: h.hub.CacheSize(r.Context()),
	}
	if h.limiter != nil {
		resp.RateLimits = h.limiter.Stats()
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// ClearCache drops every cached result, or only the one for ?url=.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if rawURL := r.URL.Query().Get("url"); rawURL != "" {
		if !h.hub.Forget(r.Context(), rawURL) {
			h.respondError(w, http.StatusNotFound, "url not cached")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.hub.ClearCache(r.Context())
	h.logger.Info("result cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

type ResetRateLimitRequest struct {
	Platform string `json:"platform"`
}

func (h *Handlers) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	var req ResetRateLimitRequest
	// An empty body resets every platform.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Platform == "" {
		h.hub.ResetRateLimits()
	} else {
		h.hub.ResetRateLimit(models.Platform(req.Platform))
	}
	h.logger.Info("rate limits reset", "platform", req.Platform)

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondError(w, http.StatusNotFound, ErrHistoryDisabled.Error())
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	platform := models.Platform(r.URL.Query().Get("platform"))

	runs, err := h.runs.ListRecent(r.Context(), platform, limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondError(w, http.StatusNotFound, ErrHistoryDisabled.Error())
		return
	}

	stats, err := h.runs.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// Health reports ok only when every registered check passes.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(h.checks))
	status := http.StatusOK

	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			h.logger.Warn("health check failed", "check", name, "error", err)
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	health := map[string]interface{}{
		"status":     "ok",
		"components": components,
	}
	if status != http.StatusOK {
		health["status"] = "degraded"
	}

	h.respondJSON(w, status, health)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
