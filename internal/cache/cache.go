package cache

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/maltedev/shop-image-collector/internal/models"
)

const (
	DefaultTTL     = 24 * time.Hour
	DefaultMaxSize = 1000
)

// Cache stores successful collection results keyed by normalized URL.
// Implementations hand out copies; callers may modify what they receive.
type Cache interface {
	Get(ctx context.Context, rawURL string) (*models.CollectionResult, bool)
	Set(ctx context.Context, rawURL string, result *models.CollectionResult)
	Has(ctx context.Context, rawURL string) bool
	Delete(ctx context.Context, rawURL string) bool
	Clear(ctx context.Context)
	Len(ctx context.Context) int
}

// TrackingParams are dropped from cache keys. Entries ending in "_" match as prefixes.
var TrackingParams = []string{
	"utm_",
	"fbclid",
	"gclid",
	"msclkid",
	"ref",
	"ref_",
	"tag",
	"NaPm",
	"n_media",
	"n_query",
	"n_rank",
	"n_ad_group",
	"n_ad",
	"n_keyword_id",
	"n_keyword",
	"n_campaign_type",
	"spm",
	"scm",
	"sourceType",
	"src",
	"traceid",
	"clickBeacon",
	"searchId",
	"lptag",
	"subid",
	"wPcid",
	"wRef",
	"wTime",
	"isAddedCart",
}

func isTrackingParam(name string) bool {
	for _, p := range TrackingParams {
		if strings.HasSuffix(p, "_") {
			if strings.HasPrefix(name, p) {
				return true
			}
			continue
		}
		if name == p {
			return true
		}
	}
	return false
}

// NormalizeKey strips tracking parameters, sorts the remaining query, drops
// the fragment and lowercases scheme and host. Unparseable input is returned trimmed.
func NormalizeKey(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for k := range q {
		if isTrackingParam(k) {
			q.Del(k)
			continue
		}
		sort.Strings(q[k])
	}
	// Encode sorts by key.
	u.RawQuery = q.Encode()

	return u.String()
}
