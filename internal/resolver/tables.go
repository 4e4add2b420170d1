package resolver

import (
	"regexp"

	"github.com/maltedev/shop-image-collector/internal/models"
)

// ShortURLHosts are known link shortener hosts, subdomains included. Only these trigger
// a network round trip during resolution.
var ShortURLHosts = []string{
	"link.coupang.com",
	"coupa.ng",
	"naver.me",
	"han.gl",
	"me2.do",
	"bit.ly",
	"goo.gl",
	"tinyurl.com",
	"s.click.aliexpress.com",
	"a.aliexpress.com",
	"amzn.to",
	"amzn.eu",
	"amzn.asia",
}

type PlatformPattern struct {
	HostContains string
	Platform     models.Platform
}

// PlatformPatterns is matched in order against the lowercased hostname; the
// first hit wins.
var PlatformPatterns = []PlatformPattern{
	{"coupang.com", models.PlatformCoupang},
	{"coupa.ng", models.PlatformCoupang},
	{"smartstore.naver.com", models.PlatformNaver},
	{"brand.naver.com", models.PlatformNaver},
	{"shopping.naver.com", models.PlatformNaver},
	{"naver.me", models.PlatformNaver},
	{"11st.co.kr", models.PlatformElevenst},
	{"gmarket.co.kr", models.PlatformGmarket},
	{"auction.co.kr", models.PlatformAuction},
	{"aliexpress.", models.PlatformAliExpress},
	{"amazon.", models.PlatformAmazon},
	{"amzn.", models.PlatformAmazon},
	{"myshopify.com", models.PlatformShopify},
}

type ErrorMarker struct {
	Text   string
	Reason string
}

// ErrorMarkers are matched case-insensitively against the page text of a
// followed short link.
var ErrorMarkers = []ErrorMarker{
	{"listing not found", "listing not found"},
	{"this item is no longer available", "item no longer available"},
	{"sold out", "product is sold out"},
	{"access denied", "access denied by storefront"},
	{"page not found", "page not found"},
	{"product not found", "product not found"},
	{"상품이 존재하지 않습니다", "product does not exist"},
	{"존재하지 않는 상품", "product does not exist"},
	{"판매가 종료된", "sale has ended"},
	{"판매 종료", "sale has ended"},
	{"페이지를 찾을 수 없습니다", "page not found"},
	{"일시품절", "product is temporarily sold out"},
	{"품절", "product is sold out"},
}

// ProductIDPatterns are tried in order against the URL path. The first
// capture group is the product identifier.
var ProductIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/vp/products/(\d+)`),
	regexp.MustCompile(`/products/(\d+)`),
	regexp.MustCompile(`/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`/item/(\d+)\.html`),
	regexp.MustCompile(`/catalog/(\d+)`),
	regexp.MustCompile(`/products/([\w-]+)`),
}

// ProductIDParams are query parameters consulted after the path patterns.
var ProductIDParams = []string{
	"productId",
	"itemId",
	"prdNo",
	"goodscode",
	"itemno",
	"itemNo",
}
