package collector

import (
	"context"
	"fmt"

	"github.com/maltedev/shop-image-collector/internal/browser"
	"github.com/maltedev/shop-image-collector/internal/models"
	"github.com/maltedev/shop-image-collector/internal/resolver"
)

// RenderStrategy loads the page in a headless browser and runs the platform
// selectors inside it.
type RenderStrategy struct {
	name      string
	priority  int
	renderer  browser.Renderer
	selectors SelectorSet
}

func NewRenderStrategy(priority int, renderer browser.Renderer, selectors SelectorSet) *RenderStrategy {
	return &RenderStrategy{
		name:      "browser-render",
		priority:  priority,
		renderer:  renderer,
		selectors: selectors,
	}
}

func (s *RenderStrategy) Name() string  { return s.name }
func (s *RenderStrategy) Priority() int { return s.priority }

func (s *RenderStrategy) Execute(ctx context.Context, url string, opts *models.Options) (*models.CollectionResult, error) {
	if s.renderer == nil {
		return nil, ErrRendererUnavailable
	}
	opts = opts.Merge()

	imageSelectors := s.selectors.ImageSelectors(opts)
	if len(imageSelectors) == 0 {
		imageSelectors = []string{"img"}
	}
	script := browser.ExtractionScript(imageSelectors, s.selectors.Title, s.selectors.Price)

	data, err := s.renderer.Render(ctx, url, script)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}

	// Pages that only become error pages after scripts run. Only the top of
	// the page is checked since variant pickers often say "sold out".
	if reason, ok := resolver.DetectErrorPage([]byte(data.Title + "\n" + head(data.Content, 500))); ok {
		return nil, fmt.Errorf("rendered page is an error page: %s", reason)
	}

	if len(data.Images) == 0 {
		return nil, ErrNoImages
	}

	images := make([]models.ProductImage, 0, len(data.Images))
	for i, src := range data.Images {
		kind := models.ImageTypeGallery
		if i == 0 {
			kind = models.ImageTypeMain
		}
		images = append(images, models.ProductImage{URL: src, Type: kind})
	}

	info := &models.ProductInfo{
		Name:  data.Title,
		Price: data.Price,
	}

	return success(s.name, images, info), nil
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
