package collector

import (
	"context"
	"errors"

	"github.com/maltedev/shop-image-collector/internal/models"
)

var (
	ErrAllStrategiesFailed = errors.New("all strategies failed")
	ErrNoImages            = errors.New("no images found")
	ErrRendererUnavailable = errors.New("renderer not configured")
)

// Strategy is one technique for extracting product images from a page.
// Lower priorities run first.
type Strategy interface {
	Name() string
	Priority() int
	Execute(ctx context.Context, url string, opts *models.Options) (*models.CollectionResult, error)
}

// StrategyFunc adapts a plain function to the Strategy interface.
type StrategyFunc func(ctx context.Context, url string, opts *models.Options) (*models.CollectionResult, error)

type funcStrategy struct {
	name     string
	priority int
	fn       StrategyFunc
}

func NewStrategy(name string, priority int, fn StrategyFunc) Strategy {
	return &funcStrategy{name: name, priority: priority, fn: fn}
}

func (s *funcStrategy) Name() string  { return s.name }
func (s *funcStrategy) Priority() int { return s.priority }

func (s *funcStrategy) Execute(ctx context.Context, url string, opts *models.Options) (*models.CollectionResult, error) {
	return s.fn(ctx, url, opts)
}

func success(name string, images []models.ProductImage, info *models.ProductInfo) *models.CollectionResult {
	if info.IsEmpty() {
		info = nil
	}
	return &models.CollectionResult{
		Success:      true,
		Images:       images,
		ProductInfo:  info,
		UsedStrategy: name,
	}
}
