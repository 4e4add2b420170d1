package collector

import (
	"context"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/shop-image-collector/internal/models"
)

var metaImageKeys = []string{
	"og:image:secure_url",
	"og:image",
	"og:image:url",
	"twitter:image",
	"twitter:image:src",
	"image",
}

// MetaTagStrategy reads Open Graph and Twitter card images.
type MetaTagStrategy struct {
	name     string
	priority int
	fetcher  *Fetcher
}

func NewMetaTagStrategy(priority int, fetcher *Fetcher) *MetaTagStrategy {
	return &MetaTagStrategy{name: "meta-tags", priority: priority, fetcher: fetcher}
}

func (s *MetaTagStrategy) Name() string  { return s.name }
func (s *MetaTagStrategy) Priority() int { return s.priority }

func (s *MetaTagStrategy) Execute(ctx context.Context, url string, _ *models.Options) (*models.CollectionResult, error) {
	doc, _, err := s.fetcher.Document(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.extract(doc)
}

func (s *MetaTagStrategy) extract(doc *goquery.Document) (*models.CollectionResult, error) {
	var images []models.ProductImage
	seen := make(map[string]struct{})

	add := func(raw string) {
		src := absoluteURL(doc.Url, raw)
		if src == "" {
			return
		}
		if _, ok := seen[src]; ok {
			return
		}
		seen[src] = struct{}{}
		kind := models.ImageTypeGallery
		if len(images) == 0 {
			kind = models.ImageTypeMain
		}
		images = append(images, models.ProductImage{URL: src, Type: kind})
	}

	for _, key := range metaImageKeys {
		doc.Find(`meta[property="` + key + `"], meta[name="` + key + `"], meta[itemprop="` + key + `"]`).Each(func(_ int, sel *goquery.Selection) {
			if v, ok := sel.Attr("content"); ok {
				add(v)
			}
		})
	}
	doc.Find(`link[rel="image_src"]`).Each(func(_ int, sel *goquery.Selection) {
		if v, ok := sel.Attr("href"); ok {
			add(v)
		}
	})

	if len(images) == 0 {
		return nil, ErrNoImages
	}

	// Declared dimensions describe the primary og:image only.
	images[0].Width = atoi(metaContent(doc, "og:image:width"))
	images[0].Height = atoi(metaContent(doc, "og:image:height"))

	info := &models.ProductInfo{
		Name:        metaContent(doc, "og:title", "twitter:title"),
		Price:       metaContent(doc, "product:price:amount", "og:price:amount"),
		Description: metaContent(doc, "og:description", "description"),
	}

	return success(s.name, images, info), nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
