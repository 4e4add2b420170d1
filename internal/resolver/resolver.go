package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/shop-image-collector/internal/models"
)

const (
	maxRedirects  = 10
	maxBodyBytes  = 2 << 20
	defaultUA     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultFollow = 10 * time.Second
)

var ErrInvalidURL = errors.New("invalid URL")

// RedirectOutcome is the result of following a short link. Err is set when the
// request failed; FinalURL is then empty and callers fall back to the original URL.
type RedirectOutcome struct {
	FinalURL   string
	StatusCode int
	Body       []byte
	Err        error
}

func (o RedirectOutcome) OK() bool {
	return o.Err == nil
}

type Resolver struct {
	client        *http.Client
	logger        *slog.Logger
	followTimeout time.Duration
	userAgent     string
}

type Options struct {
	Client        *http.Client
	FollowTimeout time.Duration
	UserAgent     string
}

func New(opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "resolver")

	if opts.FollowTimeout <= 0 {
		opts.FollowTimeout = defaultFollow
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUA
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	// Copy so the redirect policy never leaks into a shared client.
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		logger.Debug("following redirect", "from", via[len(via)-1].URL.String(), "to", req.URL.String(), "hop", len(via))
		return nil
	}

	return &Resolver{
		client:        &c,
		logger:        logger,
		followTimeout: opts.FollowTimeout,
		userAgent:     opts.UserAgent,
	}
}

// Resolve normalizes rawURL into a ResolvedURL. It never fails on network
// errors: when a short link cannot be followed the original URL is used.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) models.ResolvedURL {
	rawURL = strings.TrimSpace(rawURL)
	resolved := models.ResolvedURL{
		OriginalURL: rawURL,
		FinalURL:    rawURL,
	}

	if IsShortURL(rawURL) {
		resolved.IsShortURL = true

		outcome := r.FollowRedirects(ctx, rawURL)
		if outcome.OK() {
			resolved.FinalURL = outcome.FinalURL
			if reason, found := DetectErrorPage(outcome.Body); found {
				resolved.IsErrorPage = true
				resolved.ErrorReason = reason
			}
		} else {
			r.logger.Warn("short url follow failed, using original url", "url", rawURL, "error", outcome.Err)
		}
	}

	resolved.Platform = DetectPlatform(resolved.FinalURL)
	resolved.ProductID = ExtractProductID(resolved.FinalURL)
	resolved.StoreName = ExtractStoreName(resolved.FinalURL)

	r.logger.Debug("resolved url",
		"original", resolved.OriginalURL,
		"final", resolved.FinalURL,
		"platform", resolved.Platform,
		"product_id", resolved.ProductID,
		"error_page", resolved.IsErrorPage,
	)

	return resolved
}

// FollowRedirects issues a GET (not HEAD, the body is needed for error page
// detection) and follows redirects up to maxRedirects hops.
func (r *Resolver) FollowRedirects(ctx context.Context, rawURL string) RedirectOutcome {
	ctx, cancel := context.WithTimeout(ctx, r.followTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return RedirectOutcome{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := r.client.Do(req)
	if err != nil {
		return RedirectOutcome{Err: fmt.Errorf("failed to follow %s: %w", rawURL, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return RedirectOutcome{Err: fmt.Errorf("failed to read body: %w", err)}
	}

	return RedirectOutcome{
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Scheme-less input such as "naver.me/abc".
		u, err = url.Parse("https://" + rawURL)
		if err != nil {
			return ""
		}
	}
	return strings.ToLower(u.Hostname())
}

// IsShortURL reports whether the host is a known shortener or a subdomain of one.
func IsShortURL(rawURL string) bool {
	host := hostname(rawURL)
	if host == "" {
		return false
	}
	for _, h := range ShortURLHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func DetectPlatform(rawURL string) models.Platform {
	host := hostname(rawURL)
	for _, p := range PlatformPatterns {
		if strings.Contains(host, p.HostContains) {
			return p.Platform
		}
	}
	return models.PlatformGeneric
}

func ExtractProductID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	for _, re := range ProductIDPatterns {
		if m := re.FindStringSubmatch(u.Path); len(m) >= 2 {
			return m[1]
		}
	}

	q := u.Query()
	for _, param := range ProductIDParams {
		if v := q.Get(param); v != "" {
			return v
		}
	}
	return ""
}

func ExtractStoreName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case host == "smartstore.naver.com" || host == "brand.naver.com":
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segments) > 0 && segments[0] != "" {
			return segments[0]
		}
	case strings.HasSuffix(host, ".myshopify.com"):
		return strings.TrimSuffix(host, ".myshopify.com")
	}
	return ""
}

// DetectErrorPage scans the visible text of body for the configured markers and
// returns the reason of the first match.
func DetectErrorPage(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}

	text := pageText(body)
	for _, m := range ErrorMarkers {
		if strings.Contains(text, strings.ToLower(m.Text)) {
			return m.Reason, true
		}
	}
	return "", false
}

// pageText returns the lowercased title and body text with scripts removed,
// falling back to the raw markup when it cannot be parsed.
func pageText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return strings.ToLower(string(body))
	}
	doc.Find("script, style, noscript").Remove()

	var sb strings.Builder
	sb.WriteString(doc.Find("title").Text())
	sb.WriteString(" ")
	sb.WriteString(doc.Find("body").Text())
	return strings.ToLower(sb.String())
}

// Validate rejects input that cannot be an absolute http(s) URL.
func Validate(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}
