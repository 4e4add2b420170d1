package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/shop-image-collector/internal/models"
)

type shopifyProduct struct {
	Product struct {
		Title    string `json:"title"`
		BodyHTML string `json:"body_html"`
		Images   []struct {
			Src    string `json:"src"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
			Alt    string `json:"alt"`
		} `json:"images"`
		Variants []struct {
			Title string `json:"title"`
			Price string `json:"price"`
		} `json:"variants"`
		Options []struct {
			Name   string   `json:"name"`
			Values []string `json:"values"`
		} `json:"options"`
	} `json:"product"`
}

// ShopifyAPIStrategy uses the public <product-url>.json endpoint that every
// Shopify storefront serves.
type ShopifyAPIStrategy struct {
	name     string
	priority int
	fetcher  *Fetcher
}

func NewShopifyAPIStrategy(priority int, fetcher *Fetcher) *ShopifyAPIStrategy {
	return &ShopifyAPIStrategy{name: "shopify-api", priority: priority, fetcher: fetcher}
}

func (s *ShopifyAPIStrategy) Name() string  { return s.name }
func (s *ShopifyAPIStrategy) Priority() int { return s.priority }

// ProductJSONURL maps a product page URL to its .json endpoint.
func ProductJSONURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	if !strings.Contains(u.Path, "/products/") {
		return "", fmt.Errorf("not a product URL: %s", rawURL)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), ".json") + ".json"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func (s *ShopifyAPIStrategy) Execute(ctx context.Context, rawURL string, opts *models.Options) (*models.CollectionResult, error) {
	endpoint, err := ProductJSONURL(rawURL)
	if err != nil {
		return nil, err
	}

	body, _, err := s.fetcher.Get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var data shopifyProduct
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode product JSON: %w", err)
	}

	p := data.Product
	images := make([]models.ProductImage, 0, len(p.Images))
	for i, img := range p.Images {
		kind := models.ImageTypeGallery
		if i == 0 {
			kind = models.ImageTypeMain
		}
		images = append(images, models.ProductImage{
			URL:    absoluteURL(nil, img.Src),
			Type:   kind,
			Width:  img.Width,
			Height: img.Height,
			Alt:    img.Alt,
		})
	}

	if opts.Merge().IncludeDetails && p.BodyHTML != "" {
		images = append(images, descriptionImages(p.BodyHTML)...)
	}

	if len(images) == 0 {
		return nil, ErrNoImages
	}

	info := &models.ProductInfo{
		Name:        p.Title,
		Description: htmlText(p.BodyHTML),
	}
	if len(p.Variants) > 0 {
		info.Price = p.Variants[0].Price
	}
	for _, o := range p.Options {
		for _, v := range o.Values {
			if v == "Default Title" {
				continue
			}
			info.Options = append(info.Options, o.Name+": "+v)
		}
	}

	return success(s.name, images, info), nil
}

func descriptionImages(bodyHTML string) []models.ProductImage {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(bodyHTML))
	if err != nil {
		return nil
	}
	var out []models.ProductImage
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if src := absoluteURL(nil, imageSource(sel)); src != "" {
			out = append(out, models.ProductImage{
				URL:    src,
				Type:   models.ImageTypeDetail,
				Width:  intAttr(sel, "width"),
				Height: intAttr(sel, "height"),
			})
		}
	})
	return out
}

func htmlText(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
