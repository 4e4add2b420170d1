package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/shop-image-collector/internal/models"
)

// SelectorSet holds the CSS selectors used to locate images and product
// fields on one platform's pages.
type SelectorSet struct {
	Main    []string
	Gallery []string
	Detail  []string
	Review  []string
	Title   []string
	Price   []string
}

// ImageSelectors returns the image selectors enabled by opts, main first.
func (s SelectorSet) ImageSelectors(opts *models.Options) []string {
	out := append([]string{}, s.Main...)
	out = append(out, s.Gallery...)
	if opts == nil || opts.IncludeDetails {
		out = append(out, s.Detail...)
	}
	if opts != nil && opts.IncludeReviews {
		out = append(out, s.Review...)
	}
	return out
}

type HTMLSelectorStrategy struct {
	name      string
	priority  int
	fetcher   *Fetcher
	selectors SelectorSet
}

func NewHTMLSelectorStrategy(priority int, fetcher *Fetcher, selectors SelectorSet) *HTMLSelectorStrategy {
	return &HTMLSelectorStrategy{
		name:      "html-selectors",
		priority:  priority,
		fetcher:   fetcher,
		selectors: selectors,
	}
}

func (s *HTMLSelectorStrategy) Name() string  { return s.name }
func (s *HTMLSelectorStrategy) Priority() int { return s.priority }

func (s *HTMLSelectorStrategy) Execute(ctx context.Context, url string, opts *models.Options) (*models.CollectionResult, error) {
	doc, _, err := s.fetcher.Document(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.extract(doc, opts)
}

func (s *HTMLSelectorStrategy) extract(doc *goquery.Document, opts *models.Options) (*models.CollectionResult, error) {
	opts = opts.Merge()

	groups := []struct {
		kind      models.ImageType
		selectors []string
		enabled   bool
	}{
		{models.ImageTypeMain, s.selectors.Main, true},
		{models.ImageTypeGallery, s.selectors.Gallery, true},
		{models.ImageTypeDetail, s.selectors.Detail, opts.IncludeDetails},
		{models.ImageTypeReview, s.selectors.Review, opts.IncludeReviews},
	}

	var images []models.ProductImage
	seen := make(map[string]struct{})

	for _, g := range groups {
		if !g.enabled {
			continue
		}
		for _, selector := range g.selectors {
			doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
				src := absoluteURL(doc.Url, imageSource(sel))
				if src == "" {
					return
				}
				if _, ok := seen[src]; ok {
					return
				}
				seen[src] = struct{}{}

				alt, _ := sel.Attr("alt")
				images = append(images, models.ProductImage{
					URL:    src,
					Type:   g.kind,
					Width:  intAttr(sel, "width"),
					Height: intAttr(sel, "height"),
					Alt:    strings.TrimSpace(alt),
				})
			})
		}
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no element matched %d selectors", ErrNoImages, len(s.selectors.ImageSelectors(opts)))
	}

	info := &models.ProductInfo{
		Name:  firstText(doc, s.selectors.Title),
		Price: firstText(doc, s.selectors.Price),
	}
	if info.Name == "" {
		info.Name = metaContent(doc, "og:title")
	}

	return success(s.name, images, info), nil
}
