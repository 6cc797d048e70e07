package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/types"
)

// BrowserFetcher implements Fetcher using a headless browser via Rod. It is
// the fallback fetch mode for script-rendered pages that return no usable
// markup over plain HTTP. The browser is launched lazily on first use.
type BrowserFetcher struct {
	cfg     *config.BrowserConfig
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowserFetcher creates a headless browser fetcher. No browser process is
// started until the first Fetch call.
func NewBrowserFetcher(cfg *config.BrowserConfig, metrics *observability.Metrics, logger *slog.Logger) *BrowserFetcher {
	return &BrowserFetcher{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "browser_fetcher"),
	}
}

// connect launches Chromium and connects to it, once.
func (bf *BrowserFetcher) connect() (*rod.Browser, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.browser != nil {
		return bf.browser, nil
	}

	l := launcher.New().
		Headless(bf.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	launchURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	bf.browser = browser
	bf.logger.Info("browser fetcher ready", "headless", bf.cfg.Headless)
	return browser, nil
}

// Fetch navigates to the URL and returns the rendered page content.
func (bf *BrowserFetcher) Fetch(ctx context.Context, rawURL string, params url.Values) (*types.Response, error) {
	fullURL, err := buildURL(rawURL, params)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: false}
	}

	browser, err := bf.connect()
	if err != nil {
		return nil, &types.FetchError{URL: fullURL, Err: err, Retryable: false}
	}

	bf.metrics.RequestsTotal.Add(1)
	start := time.Now()

	page, err := stealth.Page(browser)
	if err != nil {
		bf.metrics.RequestsFailed.Add(1)
		return nil, &types.FetchError{URL: fullURL, Err: fmt.Errorf("stealth page: %w", err), Retryable: true}
	}
	defer page.Close()

	page = page.Context(ctx)

	if err := page.Timeout(bf.cfg.PageTimeout).Navigate(fullURL); err != nil {
		bf.metrics.RequestsFailed.Add(1)
		return nil, &types.FetchError{URL: fullURL, Err: err, Retryable: true}
	}

	// Wait for the page to settle; script-rendered catalogs populate the DOM
	// after load.
	if err := page.Timeout(bf.cfg.PageTimeout).WaitStable(bf.cfg.WaitStable); err != nil {
		bf.logger.Warn("page stability timeout, continuing", "url", fullURL, "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		bf.metrics.RequestsFailed.Add(1)
		return nil, &types.FetchError{URL: fullURL, Err: err, Retryable: true}
	}

	finalURL := fullURL
	if info, ierr := page.Info(); ierr == nil && info != nil {
		finalURL = info.URL
	}

	body := []byte(html)
	if isBlockedPage(body) {
		bf.metrics.RequestsFailed.Add(1)
		return nil, &types.FetchError{URL: fullURL, Err: types.ErrBlocked, Retryable: false}
	}

	bf.metrics.BytesDownloaded.Add(int64(len(body)))
	duration := time.Since(start)

	resp := &types.Response{
		URL:           fullURL,
		StatusCode:    200, // Rod does not expose the document status code
		Body:          body,
		ContentType:   "text/html",
		FinalURL:      finalURL,
		FetchDuration: duration,
		FetchedAt:     time.Now(),
	}

	bf.logger.Debug("browser fetch complete",
		"url", fullURL,
		"final_url", finalURL,
		"size", len(body),
		"duration", duration,
	)

	return resp, nil
}

// Close shuts down the browser if it was started.
func (bf *BrowserFetcher) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.browser != nil {
		err := bf.browser.Close()
		bf.browser = nil
		return err
	}
	return nil
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return "browser"
}
