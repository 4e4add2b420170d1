package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/shop-image-collector/internal/models"
)

// JSONLDStrategy reads schema.org Product data embedded as JSON-LD.
type JSONLDStrategy struct {
	name     string
	priority int
	fetcher  *Fetcher
}

func NewJSONLDStrategy(priority int, fetcher *Fetcher) *JSONLDStrategy {
	return &JSONLDStrategy{name: "json-ld", priority: priority, fetcher: fetcher}
}

func (s *JSONLDStrategy) Name() string  { return s.name }
func (s *JSONLDStrategy) Priority() int { return s.priority }

func (s *JSONLDStrategy) Execute(ctx context.Context, url string, _ *models.Options) (*models.CollectionResult, error) {
	doc, _, err := s.fetcher.Document(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.extract(doc)
}

func (s *JSONLDStrategy) extract(doc *goquery.Document) (*models.CollectionResult, error) {
	var products []map[string]interface{}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var data interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(sel.Text())), &data); err != nil {
			return
		}
		products = append(products, findProducts(data)...)
	})

	if len(products) == 0 {
		return nil, fmt.Errorf("%w: no Product node in JSON-LD", ErrNoImages)
	}

	var images []models.ProductImage
	seen := make(map[string]struct{})
	info := &models.ProductInfo{}

	for _, product := range products {
		for _, img := range schemaImages(product["image"]) {
			img.URL = absoluteURL(doc.Url, img.URL)
			if img.URL == "" {
				continue
			}
			if _, ok := seen[img.URL]; ok {
				continue
			}
			seen[img.URL] = struct{}{}
			img.Type = models.ImageTypeGallery
			if len(images) == 0 {
				img.Type = models.ImageTypeMain
			}
			images = append(images, img)
		}

		if info.Name == "" {
			info.Name = stringValue(product["name"])
		}
		if info.Description == "" {
			info.Description = stringValue(product["description"])
		}
		if info.Price == "" {
			info.Price = offerPrice(product["offers"])
		}
		if info.Rating == 0 {
			if rating, ok := product["aggregateRating"].(map[string]interface{}); ok {
				info.Rating = floatValue(rating["ratingValue"])
				info.ReviewCount = int(floatValue(rating["reviewCount"]))
				if info.ReviewCount == 0 {
					info.ReviewCount = int(floatValue(rating["ratingCount"]))
				}
			}
		}
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("%w: Product node has no image", ErrNoImages)
	}

	return success(s.name, images, info), nil
}

// findProducts walks objects, arrays and @graph containers for Product nodes.
func findProducts(data interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	switch v := data.(type) {
	case []interface{}:
		for _, item := range v {
			out = append(out, findProducts(item)...)
		}
	case map[string]interface{}:
		if isType(v["@type"], "Product") || isType(v["@type"], "ProductGroup") {
			out = append(out, v)
		}
		if graph, ok := v["@graph"]; ok {
			out = append(out, findProducts(graph)...)
		}
		if main, ok := v["mainEntity"]; ok {
			out = append(out, findProducts(main)...)
		}
	}
	return out
}

func isType(v interface{}, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want || strings.HasSuffix(t, "/"+want)
	case []interface{}:
		for _, item := range t {
			if isType(item, want) {
				return true
			}
		}
	}
	return false
}

// schemaImages accepts a URL string, an ImageObject, or a list of either.
func schemaImages(v interface{}) []models.ProductImage {
	switch t := v.(type) {
	case string:
		return []models.ProductImage{{URL: t}}
	case []interface{}:
		var out []models.ProductImage
		for _, item := range t {
			out = append(out, schemaImages(item)...)
		}
		return out
	case map[string]interface{}:
		u := stringValue(t["url"])
		if u == "" {
			u = stringValue(t["contentUrl"])
		}
		if u == "" {
			return nil
		}
		return []models.ProductImage{{
			URL:    u,
			Width:  int(floatValue(t["width"])),
			Height: int(floatValue(t["height"])),
			Alt:    stringValue(t["caption"]),
		}}
	}
	return nil
}

func offerPrice(v interface{}) string {
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if p := offerPrice(item); p != "" {
				return p
			}
		}
	case map[string]interface{}:
		price := stringValue(t["price"])
		if price == "" {
			price = stringValue(t["lowPrice"])
		}
		if price == "" {
			return offerPrice(t["offers"])
		}
		if currency := stringValue(t["priceCurrency"]); currency != "" {
			return price + " " + currency
		}
		return price
	}
	return ""
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]interface{}:
		if name, ok := t["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

func floatValue(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
		if err == nil {
			return f
		}
	case map[string]interface{}:
		// QuantitativeValue
		return floatValue(t["value"])
	}
	return 0
}
