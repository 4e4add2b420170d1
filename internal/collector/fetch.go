package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxPageBytes = 8 << 20
	defaultUA    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Fetcher performs the static HTTP requests shared by the non-rendering strategies.
type Fetcher struct {
	client         *http.Client
	userAgent      string
	acceptLanguage string
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{
		client:         client,
		userAgent:      defaultUA,
		acceptLanguage: "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
	}
}

type pageCacheKey struct{}

type cachedPage struct {
	body  []byte
	final *url.URL
}

// pageCache keeps the responses fetched during one collection so strategies
// reading the same page share a single request.
type pageCache struct {
	mu    sync.Mutex
	pages map[string]cachedPage
}

// WithPageCache returns a context under which Fetcher requests each URL at
// most once per Accept header. Only successful responses are kept.
func WithPageCache(ctx context.Context) context.Context {
	if _, ok := ctx.Value(pageCacheKey{}).(*pageCache); ok {
		return ctx
	}
	return context.WithValue(ctx, pageCacheKey{}, &pageCache{pages: make(map[string]cachedPage)})
}

// Get returns the body and the final URL after redirects.
func (f *Fetcher) Get(ctx context.Context, rawURL, accept string) ([]byte, *url.URL, error) {
	pc, _ := ctx.Value(pageCacheKey{}).(*pageCache)
	if pc == nil {
		return f.get(ctx, rawURL, accept)
	}

	key := accept + " " + rawURL
	pc.mu.Lock()
	page, ok := pc.pages[key]
	pc.mu.Unlock()
	if ok {
		return page.body, page.final, nil
	}

	body, final, err := f.get(ctx, rawURL, accept)
	if err != nil {
		return nil, nil, err
	}

	pc.mu.Lock()
	pc.pages[key] = cachedPage{body: body, final: final}
	pc.mu.Unlock()
	return body, final, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL, accept string) ([]byte, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Language", f.acceptLanguage)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read body: %w", err)
	}

	final := resp.Request.URL
	if final == nil {
		final = req.URL
	}
	return body, final, nil
}

// Document fetches rawURL and parses it with goquery.
func (f *Fetcher) Document(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	body, final, err := f.Get(ctx, rawURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Url = final
	return doc, final, nil
}

// absoluteURL resolves ref against base, upgrading protocol-relative links to https.
func absoluteURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// largestSrcset returns the candidate with the highest width or density descriptor.
func largestSrcset(srcset string) string {
	best, bestScore := "", -1.0
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		score := 1.0
		if len(fields) > 1 {
			d := fields[1]
			if v, err := strconv.ParseFloat(strings.TrimRight(d, "wx"), 64); err == nil {
				score = v
			}
		}
		if score > bestScore {
			best, bestScore = fields[0], score
		}
	}
	return best
}

var imageAttrs = []string{"data-old-hires", "data-src", "data-original", "data-lazy-src", "data-zoom-image", "src"}

// imageSource picks the best URL an <img>-like element exposes.
func imageSource(sel *goquery.Selection) string {
	for _, attr := range imageAttrs {
		if v, ok := sel.Attr(attr); ok {
			v = strings.TrimSpace(v)
			if v != "" && !strings.HasPrefix(v, "data:image/gif") {
				return v
			}
		}
	}
	for _, attr := range []string{"data-srcset", "srcset"} {
		if v, ok := sel.Attr(attr); ok && v != "" {
			return largestSrcset(v)
		}
	}
	return ""
}

func intAttr(sel *goquery.Selection, name string) int {
	v, ok := sel.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return strings.Join(strings.Fields(text), " ")
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q], meta[itemprop=%q]`, key, key, key)).First()
		if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
