package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/maltedev/shop-image-collector/internal/models"
)

const minStepTimeout = 5 * time.Second

// URLResolver turns a raw product link into a ResolvedURL.
type URLResolver interface {
	Resolve(ctx context.Context, rawURL string) models.ResolvedURL
}

// Provider owns the ordered strategies for one platform.
type Provider struct {
	platform   models.Platform
	name       string
	strategies []Strategy
	resolver   URLResolver
	logger     *slog.Logger
}

func NewProvider(platform models.Platform, name string, resolver URLResolver, logger *slog.Logger, strategies ...Strategy) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	return &Provider{
		platform:   platform,
		name:       name,
		strategies: sorted,
		resolver:   resolver,
		logger:     logger.With("component", "provider", "provider", name),
	}
}

func (p *Provider) Platform() models.Platform { return p.platform }
func (p *Provider) Name() string              { return p.name }

// StrategyNames lists strategies in execution order.
func (p *Provider) StrategyNames() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name()
	}
	return names
}

// CollectImages resolves rawURL and runs the strategy chain against it.
func (p *Provider) CollectImages(ctx context.Context, rawURL string, opts *models.Options) *models.CollectionResult {
	opts = opts.Merge()
	start := time.Now()

	if p.resolver == nil {
		return p.CollectResolved(ctx, models.ResolvedURL{OriginalURL: rawURL, FinalURL: rawURL, Platform: p.platform}, opts)
	}

	resolved := p.resolver.Resolve(ctx, rawURL)
	if resolved.IsErrorPage {
		result := ErrorPageResult(resolved)
		result.Timing = time.Since(start).Milliseconds()
		return result
	}

	result := p.CollectResolved(ctx, resolved, opts)
	result.Timing = time.Since(start).Milliseconds()
	return result
}

// ErrorPageResult is the failure returned when the resolved page is a
// removed or blocked listing.
func ErrorPageResult(resolved models.ResolvedURL) *models.CollectionResult {
	result := models.NewFailure(models.StrategyNone, resolved.ErrorReason)
	result.IsErrorPage = true
	result.ResolvedURL = resolved.FinalURL
	return result
}

// CollectResolved runs strategies in priority order until one returns images.
// Failures, panics and timeouts of a single strategy are logged and skipped.
func (p *Provider) CollectResolved(ctx context.Context, resolved models.ResolvedURL, opts *models.Options) *models.CollectionResult {
	opts = opts.Merge()
	start := time.Now()
	ctx = WithPageCache(ctx)
	target := resolved.FinalURL
	if target == "" {
		target = resolved.OriginalURL
	}
	stepTimeout := StepTimeout(opts.Timeout, len(p.strategies))

	for _, s := range p.strategies {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("collection deadline reached", "url", target, "error", err)
			break
		}

		stepStart := time.Now()
		result, err := p.runStrategy(ctx, s, target, opts, stepTimeout)
		if err != nil {
			p.logger.Warn("strategy failed",
				"strategy", s.Name(),
				"url", target,
				"duration", time.Since(stepStart),
				"error", err)
			continue
		}
		if result == nil || !result.Success || len(result.Images) == 0 {
			p.logger.Debug("strategy returned no images", "strategy", s.Name(), "url", target)
			continue
		}

		images := FilterImages(result.Images)
		if len(images) == 0 {
			p.logger.Debug("all images filtered out", "strategy", s.Name(), "raw", len(result.Images))
			continue
		}
		if len(images) > opts.MaxImages {
			images = images[:opts.MaxImages]
		}

		out := result.Clone()
		out.Success = true
		out.Error = ""
		out.Images = images
		out.UsedStrategy = s.Name()
		out.ResolvedURL = target
		out.Timing = time.Since(start).Milliseconds()

		p.logger.Info("images collected",
			"strategy", s.Name(),
			"url", target,
			"images", len(images),
			"filtered", len(result.Images)-len(images))

		return out
	}

	result := models.NewFailure(models.StrategyNone, ErrAllStrategiesFailed.Error())
	result.ResolvedURL = target
	result.Timing = time.Since(start).Milliseconds()
	return result
}

func (p *Provider) runStrategy(ctx context.Context, s Strategy, url string, opts *models.Options, timeout time.Duration) (*models.CollectionResult, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *models.CollectionResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("strategy panicked: %v", r)}
			}
		}()
		result, err := s.Execute(sctx, url, opts)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-sctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("collection stopped: %w", err)
		}
		return nil, fmt.Errorf("strategy timed out after %s: %w", timeout, sctx.Err())
	case o := <-done:
		return o.result, o.err
	}
}

// StepTimeout splits the collection budget across n strategies, keeping each
// step between 5s and the whole budget.
func StepTimeout(total time.Duration, n int) time.Duration {
	if n <= 1 {
		return total
	}
	step := total / time.Duration(n)
	if step < minStepTimeout {
		step = minStepTimeout
	}
	if step > total {
		step = total
	}
	return step
}
