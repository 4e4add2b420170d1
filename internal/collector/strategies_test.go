package collector

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/maltedev/shop-image-collector/internal/browser"
	"github.com/maltedev/shop-image-collector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRenderer is a mock for the headless browser
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(ctx context.Context, url, script string) (*browser.PageData, error) {
	args := m.Called(ctx, url, script)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*browser.PageData), args.Error(1)
}

func serveHTML(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range routes {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if len(body) > 0 && body[0] == '{' {
				w.Header().Set("Content-Type", "application/json")
			} else {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
			}
			w.Write([]byte(body))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

const productPage = `<!DOCTYPE html>
<html><head>
<title>Linen Shirt</title>
<meta property="og:title" content="Linen Shirt">
<meta property="og:image" content="/images/main.jpg">
<meta property="og:image:width" content="1200">
<meta property="og:image:height" content="1200">
<meta name="twitter:image" content="https://cdn.example/twitter.jpg">
<meta property="product:price:amount" content="29900">
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"BreadcrumbList"},
  {"@type":"Product","name":"Linen Shirt","description":"Relaxed fit",
   "image":["https://cdn.example/ld-1.jpg",{"@type":"ImageObject","url":"https://cdn.example/ld-2.jpg","width":800,"height":800}],
   "offers":{"@type":"Offer","price":"29900","priceCurrency":"KRW"},
   "aggregateRating":{"ratingValue":"4.6","reviewCount":"128"}}
]}
</script>
</head><body>
<h1 class="product-title">Linen Shirt</h1>
<span class="product-price">29,900원</span>
<div class="product-image"><img src="/img/main.jpg" alt="front" width="800" height="800"></div>
<div class="product-gallery">
  <img data-src="//cdn.example/gallery-1.jpg" src="data:image/gif;base64,R0lGOD">
  <img srcset="https://cdn.example/g2-400.jpg 400w, https://cdn.example/g2-1200.jpg 1200w">
  <img src="/img/main.jpg">
</div>
<div class="product-description"><img src="https://cdn.example/detail.jpg"></div>
<div class="reviews"><img src="https://cdn.example/review.jpg"></div>
</body></html>`

func TestMetaTagStrategy(t *testing.T) {
	srv := serveHTML(t, map[string]string{"/p/1": productPage})
	s := NewMetaTagStrategy(10, NewFetcher(srv.Client()))

	result, err := s.Execute(context.Background(), srv.URL+"/p/1", nil)
	require.NoError(t, err)

	require.Len(t, result.Images, 2)
	assert.Equal(t, srv.URL+"/images/main.jpg", result.Images[0].URL)
	assert.Equal(t, models.ImageTypeMain, result.Images[0].Type)
	assert.Equal(t, 1200, result.Images[0].Width)
	assert.Equal(t, "https://cdn.example/twitter.jpg", result.Images[1].URL)
	assert.Equal(t, "Linen Shirt", result.ProductInfo.Name)
	assert.Equal(t, "29900", result.ProductInfo.Price)
}

func TestJSONLDStrategy(t *testing.T) {
	srv := serveHTML(t, map[string]string{"/p/1": productPage})
	s := NewJSONLDStrategy(20, NewFetcher(srv.Client()))

	result, err := s.Execute(context.Background(), srv.URL+"/p/1", nil)
	require.NoError(t, err)

	require.Len(t, result.Images, 2)
	assert.Equal(t, "https://cdn.example/ld-1.jpg", result.Images[0].URL)
	assert.Equal(t, 800, result.Images[1].Width)
	assert.Equal(t, "29900 KRW", result.ProductInfo.Price)
	assert.InDelta(t, 4.6, result.ProductInfo.Rating, 0.001)
	assert.Equal(t, 128, result.ProductInfo.ReviewCount)
}

func TestJSONLDStrategy_NoProduct(t *testing.T) {
	srv := serveHTML(t, map[string]string{"/p/1": `<html><head><script type="application/ld+json">{"@type":"Organization"}</script></head></html>`})
	s := NewJSONLDStrategy(20, NewFetcher(srv.Client()))

	_, err := s.Execute(context.Background(), srv.URL+"/p/1", nil)
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestHTMLSelectorStrategy(t *testing.T) {
	srv := serveHTML(t, map[string]string{"/p/1": productPage})
	s := NewHTMLSelectorStrategy(30, NewFetcher(srv.Client()), GenericSelectors)

	result, err := s.Execute(context.Background(), srv.URL+"/p/1", &models.Options{IncludeDetails: true})
	require.NoError(t, err)

	var urls []string
	for _, i := range result.Images {
		urls = append(urls, i.URL)
	}
	assert.Equal(t, []string{
		srv.URL + "/img/main.jpg",
		"https://cdn.example/gallery-1.jpg",
		"https://cdn.example/g2-1200.jpg",
		"https://cdn.example/detail.jpg",
	}, urls)
	assert.Equal(t, models.ImageTypeMain, result.Images[0].Type)
	assert.Equal(t, "front", result.Images[0].Alt)
	assert.Equal(t, models.ImageTypeDetail, result.Images[3].Type)
	assert.Equal(t, "Linen Shirt", result.ProductInfo.Name)
	assert.Equal(t, "29,900원", result.ProductInfo.Price)
}

func TestHTMLSelectorStrategy_Reviews(t *testing.T) {
	srv := serveHTML(t, map[string]string{"/p/1": productPage})
	s := NewHTMLSelectorStrategy(30, NewFetcher(srv.Client()), GenericSelectors)

	result, err := s.Execute(context.Background(), srv.URL+"/p/1", &models.Options{IncludeReviews: true})
	require.NoError(t, err)

	last := result.Images[len(result.Images)-1]
	assert.Equal(t, "https://cdn.example/review.jpg", last.URL)
	assert.Equal(t, models.ImageTypeReview, last.Type)
}

func TestHTMLSelectorStrategy_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	s := NewHTMLSelectorStrategy(30, NewFetcher(srv.Client()), GenericSelectors)

	_, err := s.Execute(context.Background(), srv.URL+"/missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

const shopifyJSON = `{"product":{
  "title":"Canvas Tote",
  "body_html":"<p>Sturdy canvas.</p><img src=\"https://cdn.shopify.com/detail.jpg\">",
  "images":[
    {"src":"https://cdn.shopify.com/files/tote-1.jpg","width":2048,"height":2048,"alt":"front"},
    {"src":"//cdn.shopify.com/files/tote-2.jpg","width":2048,"height":2048}
  ],
  "variants":[{"title":"Default Title","price":"35.00"}],
  "options":[{"name":"Color","values":["Natural","Black"]}]
}}`

func TestShopifyAPIStrategy(t *testing.T) {
	srv := serveHTML(t, map[string]string{"/products/canvas-tote.json": shopifyJSON})
	s := NewShopifyAPIStrategy(10, NewFetcher(srv.Client()))

	result, err := s.Execute(context.Background(), srv.URL+"/products/canvas-tote?variant=1", nil)
	require.NoError(t, err)

	require.Len(t, result.Images, 3)
	assert.Equal(t, "https://cdn.shopify.com/files/tote-1.jpg", result.Images[0].URL)
	assert.Equal(t, models.ImageTypeMain, result.Images[0].Type)
	assert.Equal(t, "https://cdn.shopify.com/files/tote-2.jpg", result.Images[1].URL)
	assert.Equal(t, models.ImageTypeDetail, result.Images[2].Type)
	assert.Equal(t, "Canvas Tote", result.ProductInfo.Name)
	assert.Equal(t, "35.00", result.ProductInfo.Price)
	assert.Equal(t, []string{"Color: Natural", "Color: Black"}, result.ProductInfo.Options)
	assert.Contains(t, result.ProductInfo.Description, "Sturdy canvas.")
}

func TestProductJSONURL(t *testing.T) {
	got, err := ProductJSONURL("https://shop.example/collections/bags/products/tote/?variant=2#top")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/collections/bags/products/tote.json", got)

	_, err = ProductJSONURL("https://shop.example/pages/about")
	assert.Error(t, err)
}

func TestRenderStrategy(t *testing.T) {
	r := new(MockRenderer)
	r.On("Render", mock.Anything, "https://smartstore.naver.com/s/products/1", mock.AnythingOfType("string")).
		Return(&browser.PageData{
			Images: []string{"https://shop-phinf.pstatic.net/a.jpg", "https://shop-phinf.pstatic.net/b.jpg"},
			Title:  "Linen Shirt",
			Price:  "29,900원",
		}, nil)

	s := NewRenderStrategy(30, r, NaverSelectors)
	result, err := s.Execute(context.Background(), "https://smartstore.naver.com/s/products/1", nil)
	require.NoError(t, err)

	require.Len(t, result.Images, 2)
	assert.Equal(t, models.ImageTypeMain, result.Images[0].Type)
	assert.Equal(t, "Linen Shirt", result.ProductInfo.Name)
	r.AssertExpectations(t)
}

func TestRenderStrategy_ErrorPageAfterRender(t *testing.T) {
	r := new(MockRenderer)
	r.On("Render", mock.Anything, mock.Anything, mock.Anything).
		Return(&browser.PageData{Images: []string{"https://cdn.example/a.jpg"}, Content: "상품이 존재하지 않습니다"}, nil)

	s := NewRenderStrategy(30, r, NaverSelectors)
	_, err := s.Execute(context.Background(), "https://smartstore.naver.com/s/products/1", nil)
	assert.Error(t, err)
}

func TestRenderStrategy_Failures(t *testing.T) {
	_, err := NewRenderStrategy(30, nil, NaverSelectors).Execute(context.Background(), "https://x.example", nil)
	assert.ErrorIs(t, err, ErrRendererUnavailable)

	r := new(MockRenderer)
	r.On("Render", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("navigation timeout"))
	_, err = NewRenderStrategy(30, r, NaverSelectors).Execute(context.Background(), "https://x.example", nil)
	assert.Error(t, err)
}

func TestDefaultProviders(t *testing.T) {
	reg := DefaultProviders(Dependencies{})

	require.NotNil(t, reg.Default)
	assert.Equal(t, models.PlatformGeneric, reg.Default.Platform())
	assert.Equal(t, []string{"meta-tags", "json-ld", "html-selectors"}, reg.Default.StrategyNames())

	for _, p := range []models.Platform{
		models.PlatformCoupang, models.PlatformNaver, models.PlatformElevenst,
		models.PlatformGmarket, models.PlatformAuction, models.PlatformAliExpress,
		models.PlatformAmazon, models.PlatformShopify,
	} {
		require.Contains(t, reg.Providers, p)
		assert.NotEmpty(t, reg.Providers[p].StrategyNames())
	}
	_, hasGeneric := reg.Providers[models.PlatformGeneric]
	assert.False(t, hasGeneric)

	assert.Equal(t, "shopify-api", reg.Providers[models.PlatformShopify].StrategyNames()[0])
}

func TestDefaultProviders_WithRenderer(t *testing.T) {
	reg := DefaultProviders(Dependencies{Renderer: new(MockRenderer)})

	names := reg.Providers[models.PlatformNaver].StrategyNames()
	assert.Equal(t, []string{"meta-tags", "json-ld", "browser-render", "html-selectors"}, names)

	generic := reg.Default.StrategyNames()
	assert.Equal(t, "browser-render", generic[len(generic)-1])
}

func TestCollectResolved_FetchesPageOncePerCollection(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><div class="gallery"><img src="https://cdn.example/p1.jpg"></div></body></html>`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())
	p := NewProvider(models.PlatformGeneric, "test", nil, slog.Default(),
		NewMetaTagStrategy(10, f),
		NewJSONLDStrategy(20, f),
		NewHTMLSelectorStrategy(30, f, SelectorSet{Gallery: []string{".gallery img"}}),
	)

	url := srv.URL + "/products/1"
	result := p.CollectResolved(context.Background(), models.ResolvedURL{OriginalURL: url, FinalURL: url}, nil)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "html-selectors", result.UsedStrategy)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// A new collection fetches again.
	p.CollectResolved(context.Background(), models.ResolvedURL{OriginalURL: url, FinalURL: url}, nil)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetcher_FailedResponsesAreNotReused(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())
	ctx := WithPageCache(context.Background())

	_, _, err := f.Document(ctx, srv.URL)
	require.Error(t, err)
	_, _, err = f.Document(ctx, srv.URL)
	require.NoError(t, err)
	_, _, err = f.Document(ctx, srv.URL)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
