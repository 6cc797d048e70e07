package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/types"
)

// HTTPFetcher implements Fetcher using net/http. It owns the full request
// policy for a storefront: browser-like headers, UA rotation, rate limiting,
// pre-request jitter, bounded retries, and a short-lived response cache.
type HTTPFetcher struct {
	client     *http.Client
	cfg        *config.FetcherConfig
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
	cache      *responseCache
	userAgents []string
	uaIndex    atomic.Int64
	proxies    []*url.URL
	proxyIdx   atomic.Int64
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg *config.FetcherConfig, metrics *observability.Metrics, logger *slog.Logger) (*HTTPFetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns / 2,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true, // We handle decompression ourselves (including brotli)
	}

	f := &HTTPFetcher{
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		metrics:    metrics,
		logger:     logger.With("component", "http_fetcher"),
		cache:      newResponseCache(cfg.CacheTTL),
		userAgents: cfg.UserAgents,
	}

	for _, raw := range cfg.Proxies {
		u, perr := url.Parse(raw)
		if perr != nil {
			logger.Warn("invalid proxy URL", "url", raw, "error", perr)
			continue
		}
		f.proxies = append(f.proxies, u)
	}
	if len(f.proxies) > 0 {
		transport.Proxy = f.nextProxy
	}

	f.client = &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("max redirects (10) reached")
			}
			return nil
		},
	}

	return f, nil
}

// Fetch retrieves rawURL with params appended as the query string. It retries
// transient failures up to MaxRetries times, sleeping between attempts; HTTP
// 429 responses are retried after the server's Retry-After, or a randomized
// cool-off when the header is absent.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, params url.Values) (*types.Response, error) {
	fullURL, err := buildURL(rawURL, params)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: false}
	}

	if resp, ok := f.cache.get(fullURL); ok {
		f.metrics.CacheHits.Add(1)
		f.logger.Debug("cache hit", "url", fullURL)
		return resp, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &types.FetchError{URL: fullURL, Err: err, Retryable: false}
	}

	// Randomized pre-request delay to avoid a regular request cadence.
	if err := sleepCtx(ctx, f.preDelay()); err != nil {
		return nil, &types.FetchError{URL: fullURL, Err: err, Retryable: false}
	}

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		resp, err := f.do(ctx, fullURL)
		if err == nil {
			f.cache.put(fullURL, resp)
			return resp, nil
		}
		lastErr = err

		var fe *types.FetchError
		if !errors.As(err, &fe) || !fe.Retryable {
			f.metrics.RequestsFailed.Add(1)
			return nil, err
		}
		if attempt == f.cfg.MaxRetries {
			break
		}

		var wait time.Duration
		if fe.StatusCode == http.StatusTooManyRequests {
			f.metrics.RateLimitHits.Add(1)
			wait = fe.RetryAfter
		} else {
			wait = RandomDelay(time.Duration(attempt+1) * 500 * time.Millisecond)
		}

		f.metrics.RequestsRetried.Add(1)
		f.logger.Warn("retrying fetch",
			"url", fullURL,
			"attempt", attempt+1,
			"wait", wait,
			"error", err,
		)
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, &types.FetchError{URL: fullURL, Err: err, Retryable: false}
		}
	}

	f.metrics.RequestsFailed.Add(1)
	return nil, fmt.Errorf("fetch %s: %w (last error: %w)", fullURL, types.ErrMaxRetries, lastErr)
}

// do executes a single HTTP attempt.
func (f *HTTPFetcher) do(ctx context.Context, fullURL string) (*types.Response, error) {
	f.metrics.RequestsTotal.Add(1)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &types.FetchError{URL: fullURL, Err: err, Retryable: false}
	}
	applyBrowserHeaders(httpReq, f.nextUserAgent())

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		return nil, &types.FetchError{
			URL:       fullURL,
			Err:       err,
			Retryable: isRetryableError(err),
		}
	}
	defer httpResp.Body.Close()

	// 429 Too Many Requests: respect Retry-After when present, otherwise
	// back off for a randomized cool-off.
	if httpResp.StatusCode == http.StatusTooManyRequests {
		header := httpResp.Header.Get("Retry-After")
		retryAfter := parseRetryAfter(header)
		if header == "" {
			retryAfter = rateLimitCooloff()
		}
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &types.FetchError{
			URL:        fullURL,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP 429: rate limited: %s", strings.TrimSpace(string(body))),
			Retryable:  true,
			RetryAfter: retryAfter,
		}
	}

	// Retry on 5xx server errors.
	if httpResp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, &types.FetchError{
			URL:        fullURL,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, string(body)),
			Retryable:  true,
		}
	}

	if httpResp.StatusCode >= 400 {
		return nil, &types.FetchError{
			URL:        fullURL,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", httpResp.StatusCode),
			Retryable:  false,
		}
	}

	// Read body with size limit.
	var reader io.Reader = httpResp.Body
	if f.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, f.cfg.MaxBodySize)
	}

	// Decompress if needed (gzip, deflate, brotli).
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, &types.FetchError{URL: fullURL, StatusCode: httpResp.StatusCode, Err: err, Retryable: false}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &types.FetchError{URL: fullURL, StatusCode: httpResp.StatusCode, Err: err, Retryable: true}
	}
	if len(body) == 0 {
		return nil, &types.FetchError{URL: fullURL, StatusCode: httpResp.StatusCode, Err: types.ErrEmptyResponse, Retryable: true}
	}
	if isBlockedPage(body) {
		return nil, &types.FetchError{URL: fullURL, StatusCode: httpResp.StatusCode, Err: types.ErrBlocked, Retryable: false}
	}

	f.metrics.BytesDownloaded.Add(int64(len(body)))

	resp := &types.Response{
		URL:           fullURL,
		StatusCode:    httpResp.StatusCode,
		Headers:       httpResp.Header,
		Body:          body,
		ContentType:   httpResp.Header.Get("Content-Type"),
		FinalURL:      httpResp.Request.URL.String(),
		FetchDuration: duration,
		FetchedAt:     time.Now(),
	}

	f.logger.Debug("fetch complete",
		"url", fullURL,
		"status", resp.StatusCode,
		"size", len(body),
		"duration", duration,
	)

	return resp, nil
}

// Close releases resources.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// Type returns the fetcher type identifier.
func (f *HTTPFetcher) Type() string {
	return "http"
}

// nextUserAgent returns the next User-Agent in rotation.
func (f *HTTPFetcher) nextUserAgent() string {
	if len(f.userAgents) == 0 {
		return "modaflow/" + config.Version
	}
	idx := f.uaIndex.Add(1) % int64(len(f.userAgents))
	return f.userAgents[idx]
}

// nextProxy returns the next proxy URL in round-robin rotation.
func (f *HTTPFetcher) nextProxy(*http.Request) (*url.URL, error) {
	if len(f.proxies) == 0 {
		return nil, nil
	}
	idx := f.proxyIdx.Add(1) % int64(len(f.proxies))
	return f.proxies[idx], nil
}

// preDelay returns a random delay in [MinDelay, MaxDelay].
func (f *HTTPFetcher) preDelay() time.Duration {
	if f.cfg.MaxDelay <= f.cfg.MinDelay {
		return f.cfg.MinDelay
	}
	span := f.cfg.MaxDelay - f.cfg.MinDelay
	return f.cfg.MinDelay + time.Duration(rand.Int63n(int64(span)))
}

// buildURL validates rawURL and appends params to its query string.
func buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", types.ErrInvalidURL, u.Scheme)
	}
	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Set(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// decompressReader wraps a reader with the appropriate decompressor.
// Handles gzip, deflate, and brotli (br) encodings.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isRetryableError checks if a network error warrants a retry.
// Covers timeouts, connection resets, unexpected EOF, and connection refused.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Context cancellation is NOT retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Unexpected EOF mid-stream — retryable
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	// Network-level errors
	if netErr, ok := err.(net.Error); ok {
		if netErr.Timeout() {
			return true
		}
	}
	// Connection reset by peer, connection refused
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter parses the Retry-After header value.
// Supports both integer seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	// Try seconds integer
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120 // cap at 2 minutes
		}
		return time.Duration(secs) * time.Second
	}
	// Try HTTP-date
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}

// rateLimitCooloff returns a random cool-off between 5 and 10 seconds, used
// when a 429 carries no Retry-After header.
func rateLimitCooloff() time.Duration {
	return 5*time.Second + time.Duration(rand.Int63n(int64(5*time.Second)))
}

// RandomDelay returns a random delay around the base duration (±25%).
func RandomDelay(base time.Duration) time.Duration {
	jitter := float64(base) * 0.25
	return base + time.Duration(rand.Float64()*2*jitter-jitter)
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
