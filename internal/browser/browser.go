package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PageData is what an extraction script returns after a page has rendered.
type PageData struct {
	Images  []string `json:"images"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Price   string   `json:"price"`
}

// Renderer loads a page in a real browser and runs an extraction script on it.
type Renderer interface {
	Render(ctx context.Context, url, script string) (*PageData, error)
}

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	MaxRetries     int
	ScrollSteps    int
	ScrollDelay    time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		MaxRetries:     2,
		ScrollSteps:    5,
		ScrollDelay:    400 * time.Millisecond,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
		TimezoneID:     "Asia/Seoul",
		Locale:         "ko-KR",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + opts.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Render opens a fresh page, waits for it to settle, scrolls to trigger lazy
// images and returns the decoded result of script. The page is closed when
// ctx ends, which aborts any pending playwright call.
func (b *Browser) Render(ctx context.Context, url, script string) (*PageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	type outcome struct {
		data *PageData
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		data, err := b.render(ctx, page, url, script)
		done <- outcome{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		b.logger.Warn("render cancelled", "url", url, "error", ctx.Err())
		return nil, ctx.Err()
	case o := <-done:
		return o.data, o.err
	}
}

func (b *Browser) render(ctx context.Context, page playwright.Page, url, script string) (*PageData, error) {
	start := time.Now()

	if err := b.NavigateWithRetry(ctx, page, url, b.opts.MaxRetries); err != nil {
		return nil, err
	}

	if err := b.AutoScroll(ctx, page, b.opts.ScrollSteps); err != nil {
		b.logger.Debug("auto scroll interrupted", "url", url, "error", err)
	}

	raw, err := page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate extraction script: %w", err)
	}

	data, err := decodePageData(raw)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("page rendered",
		"url", url,
		"images", len(data.Images),
		"duration", time.Since(start))

	return data, nil
}

func (b *Browser) NavigateWithRetry(ctx context.Context, page playwright.Page, url string, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := sleep(ctx, time.Duration(i)*time.Second); err != nil {
				return err
			}
		}

		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})

		if err == nil {
			protected, err := b.CheckAndBypassBotProtection(ctx, page)
			if err != nil {
				b.logger.Error("failed to check bot protection", "error", err)
				lastErr = err
				continue
			}
			if protected {
				b.logger.Info("bot protection bypassed", "url", url)
			}
			return nil
		}

		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// botCheckMarkers identify interstitials served instead of the product page.
var botCheckMarkers = []string{
	"cf-challenge",
	"challenge-platform",
	"just a moment...",
	"verify you are human",
	"are you a robot",
	"captcha-delivery",
	"보안 확인",
	"자동입력 방지",
}

var bypassSelectors = []string{
	`input[type="checkbox"]`,
	`button:has-text("Continue")`,
	`button:has-text("계속")`,
	`input[type="submit"]`,
}

func isBotCheck(title, content string) bool {
	haystack := strings.ToLower(title + "\n" + content)
	for _, m := range botCheckMarkers {
		if strings.Contains(haystack, m) {
			return true
		}
	}
	return false
}

// CheckAndBypassBotProtection clicks through simple interstitials. It
// reports true when one was detected and passed.
func (b *Browser) CheckAndBypassBotProtection(ctx context.Context, page playwright.Page) (bool, error) {
	if err := sleep(ctx, time.Second); err != nil {
		return false, err
	}

	title, err := page.Title()
	if err != nil {
		return false, fmt.Errorf("failed to get page title: %w", err)
	}

	content, err := page.Content()
	if err != nil {
		return false, fmt.Errorf("failed to get page content: %w", err)
	}

	if !isBotCheck(title, content) {
		return false, nil
	}

	b.logger.Info("bot protection detected, attempting bypass", "title", title)

	for _, selector := range bypassSelectors {
		button := page.Locator(selector).First()

		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}

		b.logger.Info("found bot check control", "selector", selector)

		if err := button.Click(); err != nil {
			b.logger.Error("failed to click control", "error", err)
			continue
		}

		if err := sleep(ctx, 3*time.Second); err != nil {
			return false, err
		}

		newTitle, _ := page.Title()
		newContent, _ := page.Content()
		if !isBotCheck(newTitle, newContent) {
			return true, nil
		}
	}

	return false, fmt.Errorf("could not bypass bot protection")
}

// AutoScroll moves down the page in steps so lazily loaded images get a src.
func (b *Browser) AutoScroll(ctx context.Context, page playwright.Page, steps int) error {
	for i := 0; i < steps; i++ {
		page.Mouse().Move(float64(100+i*200), float64(100+i*150))
		if _, err := page.Evaluate(`window.scrollBy(0, window.innerHeight)`); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := sleep(ctx, b.opts.ScrollDelay); err != nil {
			return err
		}
	}

	_, err := page.Evaluate(`window.scrollTo(0, 0)`)
	return err
}

func decodePageData(raw interface{}) (*PageData, error) {
	if raw == nil {
		return nil, fmt.Errorf("extraction script returned nothing")
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script result: %w", err)
	}

	var data PageData
	if err := json.Unmarshal(encoded, &data); err != nil {
		return nil, fmt.Errorf("failed to decode script result: %w", err)
	}

	return &data, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
