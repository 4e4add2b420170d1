package collector

import (
	"log/slog"

	"github.com/maltedev/shop-image-collector/internal/browser"
	"github.com/maltedev/shop-image-collector/internal/models"
)

var (
	CoupangSelectors = SelectorSet{
		Main:    []string{".prod-image__detail img", "img.prod-image__detail", ".prod-image img"},
		Gallery: []string{".prod-image__items img", ".prod-image__item img"},
		Detail:  []string{".product-detail-content-inside img", "#productDetail img", ".subType-IMAGE img"},
		Review:  []string{".sdp-review__article__list__attachment__img", ".js_reviewArticlePhotoImg"},
		Title:   []string{"h2.prod-buy-header__title", ".prod-buy-header__title", "h1"},
		Price:   []string{".total-price strong", ".prod-sale-price .total-price"},
	}

	NaverSelectors = SelectorSet{
		Main:    []string{"img.bd_2DO68", "._2tT_gkmAOr img", "div[class*='ImageViewer'] img"},
		Gallery: []string{"ul[class*='thumbnail'] img", "._1GnPeL2yOk img"},
		Detail:  []string{".se-main-container img", "#INTRODUCE img", "div[class*='detail'] img"},
		Review:  []string{"div[class*='reviewItem'] img", "._3Lp7ZKfQTQ img"},
		Title:   []string{"h3._22kNQuEXmb", "h3[class*='title']", "h3"},
		Price:   []string{"strong.aICRqgP9zw span._1LY7DqCnwR", "span[class*='price'] strong"},
	}

	ElevenstSelectors = SelectorSet{
		Main:    []string{"#productImg img", ".img_full img", ".c_product_view_img img"},
		Gallery: []string{".c_product_thumb img", "#thumbImgList img"},
		Detail:  []string{"#prdDescIfrm img", ".ifrm_prdc_detail img", "#tabpanelDetail1 img"},
		Review:  []string{".review_list img", ".c_product_review img"},
		Title:   []string{"h1.title", ".c_product_info_title h1"},
		Price:   []string{".price_detail .value", "dd.price strong"},
	}

	// Gmarket and Auction run on the same storefront platform.
	GmarketSelectors = SelectorSet{
		Main:    []string{".box__viewer-container img", "#container .thumb-gallery img", ".viewer img"},
		Gallery: []string{".box__thumbnail-list img", ".thumb-gallery .thumbnail img"},
		Detail:  []string{"#vip-tab_detail img", ".box__detail-view img"},
		Review:  []string{".box__review-list img", ".list__review img"},
		Title:   []string{"h1.itemtit", ".box__item-title h1", "h1"},
		Price:   []string{".price_real", "strong.price_real", ".box__price strong"},
	}

	AliExpressSelectors = SelectorSet{
		Main:    []string{".magnifier--image--EYYoSlr", "img.magnifier-image", ".image-view-magnifier-wrap img"},
		Gallery: []string{".slider--img--K0YbWW2 img", ".images-view-list img"},
		Detail:  []string{"#product-description img", ".detail-desc-decorate-richtext img"},
		Review:  []string{".feedback-item img", ".list--itemPhotos--HM2w7pK img"},
		Title:   []string{"h1[data-pl='product-title']", ".product-title-text", "h1"},
		Price:   []string{".product-price-value", ".price--currentPriceText--V8_y_b5"},
	}

	AmazonSelectors = SelectorSet{
		Main:    []string{"#landingImage", "#imgBlkFront", "#main-image"},
		Gallery: []string{"#altImages li.imageThumbnail img", "#altImages img"},
		Detail:  []string{"#aplus img", "#productDescription img"},
		Review:  []string{".review-image-tile", "img.cr-lightbox-image-thumbnail"},
		Title:   []string{"#productTitle", "#title"},
		Price:   []string{".a-price .a-offscreen", "#priceblock_ourprice", "#corePrice_feature_div .a-offscreen"},
	}

	ShopifySelectors = SelectorSet{
		Main:    []string{".product__media img", ".product-single__photo img", ".product-featured-media img"},
		Gallery: []string{".product__media-list img", ".product-single__thumbnails img", ".thumbnail-list img"},
		Detail:  []string{".product__description img", ".product-single__description img"},
		Title:   []string{".product__title h1", "h1.product-single__title", "h1"},
		Price:   []string{".price-item--regular", ".product__price", "[data-product-price]"},
	}

	GenericSelectors = SelectorSet{
		Main:    []string{"[itemprop='image']", ".product-image img", ".product img.main", "#product-image img"},
		Gallery: []string{".product-gallery img", ".product-images img", ".gallery img", ".swiper-slide img"},
		Detail:  []string{".product-description img", ".product-detail img", "#description img"},
		Review:  []string{".review img", ".reviews img"},
		Title:   []string{"[itemprop='name']", "h1.product-title", "h1"},
		Price:   []string{"[itemprop='price']", ".product-price", ".price"},
	}
)

// Dependencies are the collaborators shared by the built-in strategies.
type Dependencies struct {
	Resolver URLResolver
	Fetcher  *Fetcher
	Renderer browser.Renderer
	Logger   *slog.Logger
}

// Registry maps platforms to providers and names the fallback for
// platforms without a dedicated provider.
type Registry struct {
	Providers map[models.Platform]*Provider
	Default   *Provider
}

// DefaultProviders wires the built-in strategies for every supported platform.
// The render strategy is only added when a renderer is available.
func DefaultProviders(deps Dependencies) *Registry {
	if deps.Fetcher == nil {
		deps.Fetcher = NewFetcher(nil)
	}
	f := deps.Fetcher

	withRender := func(priority int, sel SelectorSet, strategies ...Strategy) []Strategy {
		if deps.Renderer != nil {
			strategies = append(strategies, NewRenderStrategy(priority, deps.Renderer, sel))
		}
		return strategies
	}

	build := func(platform models.Platform, name string, strategies []Strategy) *Provider {
		return NewProvider(platform, name, deps.Resolver, deps.Logger, strategies...)
	}

	gmarket := withRender(30, GmarketSelectors,
		NewHTMLSelectorStrategy(10, f, GmarketSelectors),
		NewMetaTagStrategy(20, f),
	)

	providers := map[models.Platform]*Provider{
		models.PlatformCoupang: build(models.PlatformCoupang, "coupang", withRender(40, CoupangSelectors,
			NewHTMLSelectorStrategy(10, f, CoupangSelectors),
			NewMetaTagStrategy(20, f),
			NewJSONLDStrategy(30, f),
		)),
		// Smart Store pages are client-rendered; static markup only carries meta tags.
		models.PlatformNaver: build(models.PlatformNaver, "naver", withRender(30, NaverSelectors,
			NewMetaTagStrategy(10, f),
			NewJSONLDStrategy(20, f),
			NewHTMLSelectorStrategy(40, f, NaverSelectors),
		)),
		models.PlatformElevenst: build(models.PlatformElevenst, "elevenst", withRender(30, ElevenstSelectors,
			NewHTMLSelectorStrategy(10, f, ElevenstSelectors),
			NewMetaTagStrategy(20, f),
		)),
		models.PlatformGmarket: build(models.PlatformGmarket, "gmarket", gmarket),
		models.PlatformAuction: build(models.PlatformAuction, "auction", gmarket),
		models.PlatformAliExpress: build(models.PlatformAliExpress, "aliexpress", withRender(30, AliExpressSelectors,
			NewMetaTagStrategy(10, f),
			NewJSONLDStrategy(20, f),
		)),
		models.PlatformAmazon: build(models.PlatformAmazon, "amazon", withRender(30, AmazonSelectors,
			NewHTMLSelectorStrategy(10, f, AmazonSelectors),
			NewMetaTagStrategy(20, f),
		)),
		models.PlatformShopify: build(models.PlatformShopify, "shopify", withRender(40, ShopifySelectors,
			NewShopifyAPIStrategy(10, f),
			NewJSONLDStrategy(20, f),
			NewMetaTagStrategy(30, f),
		)),
	}

	generic := build(models.PlatformGeneric, "generic", withRender(40, GenericSelectors,
		NewMetaTagStrategy(10, f),
		NewJSONLDStrategy(20, f),
		NewHTMLSelectorStrategy(30, f, GenericSelectors),
	))

	return &Registry{Providers: providers, Default: generic}
}
