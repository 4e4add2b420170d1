package collector

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/maltedev/shop-image-collector/internal/models"
)

const MinImageDimension = 100

// adPatterns match promotional artwork by path segment, so "silicone.jpg"
// survives while "/icons/cart.png" does not.
var adPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|[/_\-.=?&])(promotions?|promos?|banners?|logos?|icons?|favicons?)([/_\-.=?&]|$)`),
	regexp.MustCompile(`(?i)(^|[/_\-.=?&])(placeholders?|loading|loader|spinners?|sprites?)([/_\-.=?&]|$)`),
	// Beacon names only count as a whole segment or file name; product names
	// such as "google-pixel-8.jpg" contain them too.
	regexp.MustCompile(`(?i)/(blank|pixel|spacer|tracking|1x1|transparent)(/|\.(gif|png|jpe?g|webp|svg)([?#]|$))`),
	regexp.MustCompile(`(?i)/(ads?|adimg|advert)/`),
}

func isAdImage(u string) bool {
	for _, re := range adPatterns {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

func isValidImageURL(raw string) bool {
	if raw == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(raw), "data:image/svg") {
		return false
	}
	if strings.Contains(strings.ToLower(raw), "placeholder") {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https", "data":
		return true
	default:
		return false
	}
}

func tooSmall(img models.ProductImage) bool {
	return (img.Width > 0 && img.Width < MinImageDimension) ||
		(img.Height > 0 && img.Height < MinImageDimension)
}

// FilterImages drops ads, undersized images and unusable URLs, removing
// duplicates. Surviving images keep their relative order.
func FilterImages(images []models.ProductImage) []models.ProductImage {
	out := make([]models.ProductImage, 0, len(images))
	seen := make(map[string]struct{}, len(images))

	for _, img := range images {
		img.URL = strings.TrimSpace(img.URL)
		if !isValidImageURL(img.URL) || isAdImage(img.URL) || tooSmall(img) {
			continue
		}
		if _, dup := seen[img.URL]; dup {
			continue
		}
		seen[img.URL] = struct{}{}
		out = append(out, img)
	}

	return out
}
