package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testFetcherConfig() *config.FetcherConfig {
	return &config.FetcherConfig{
		RequestTimeout:  5 * time.Second,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      2,
		MinDelay:        0,
		MaxDelay:        0,
		RatePerSecond:   1000,
		RateBurst:       10,
		MaxBodySize:     1 << 20,
		MaxIdleConns:    10,
		IdleConnTimeout: time.Second,
		CacheTTL:        0,
		UserAgents:      []string{"test-agent"},
	}
}

func newTestFetcher(t *testing.T, cfg *config.FetcherConfig) (*HTTPFetcher, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(testLogger)
	f, err := NewHTTPFetcher(cfg, metrics, testLogger)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f, metrics
}

// --- Fetch Tests ---

func TestHTTPFetcherFetch(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body><h1>catalog</h1></body></html>"))
	}))
	defer srv.Close()

	f, metrics := newTestFetcher(t, testFetcherConfig())

	resp, err := f.Fetch(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		t.Error("expected non-empty body")
	}
	if gotUA != "test-agent" {
		t.Errorf("expected rotated user agent, got %q", gotUA)
	}
	if gotLang == "" {
		t.Error("expected Accept-Language header to be set")
	}
	if n := metrics.RequestsTotal.Load(); n != 1 {
		t.Errorf("expected 1 request counted, got %d", n)
	}
}

func TestHTTPFetcherQueryParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, testFetcherConfig())

	params := url.Values{}
	params.Set("q", "nike")
	params.Set("submit", "y")
	if _, err := f.Fetch(context.Background(), srv.URL+"/catalogsearch/result/", params); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotQuery.Get("q") != "nike" {
		t.Errorf("expected q=nike, got %q", gotQuery.Get("q"))
	}
	if gotQuery.Get("submit") != "y" {
		t.Errorf("expected submit=y, got %q", gotQuery.Get("submit"))
	}
}

func TestHTTPFetcherRetryOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("<html>recovered</html>"))
	}))
	defer srv.Close()

	f, metrics := newTestFetcher(t, testFetcherConfig())

	resp, err := f.Fetch(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("fetch after 429: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected recovery to 200, got %d", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", calls.Load())
	}
	if n := metrics.RateLimitHits.Load(); n != 1 {
		t.Errorf("expected 1 rate limit hit, got %d", n)
	}
	if n := metrics.RequestsRetried.Load(); n != 1 {
		t.Errorf("expected 1 retry, got %d", n)
	}
}

func TestHTTPFetcherRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write([]byte("<html>recovered</html>"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, testFetcherConfig())

	if _, err := f.Fetch(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("fetch after 502: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", calls.Load())
	}
}

func TestHTTPFetcherExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testFetcherConfig()
	cfg.MaxRetries = 2
	f, metrics := newTestFetcher(t, cfg)

	_, err := f.Fetch(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, types.ErrMaxRetries) {
		t.Errorf("expected ErrMaxRetries, got %v", err)
	}
	if calls.Load() != 3 { // initial attempt + 2 retries
		t.Errorf("expected 3 requests, got %d", calls.Load())
	}
	if n := metrics.RequestsFailed.Load(); n != 1 {
		t.Errorf("expected 1 failed fetch, got %d", n)
	}
}

func TestHTTPFetcherClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, testFetcherConfig())

	_, err := f.Fetch(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	var fe *types.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %T", err)
	}
	if fe.StatusCode != 404 {
		t.Errorf("expected status 404, got %d", fe.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("404 should not be retried, got %d requests", calls.Load())
	}
}

func TestHTTPFetcherBlockedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Please solve this CAPTCHA to continue</body></html>"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, testFetcherConfig())

	_, err := f.Fetch(context.Background(), srv.URL, nil)
	if !errors.Is(err, types.ErrBlocked) {
		t.Errorf("expected ErrBlocked, got %v", err)
	}
}

func TestHTTPFetcherInvalidURL(t *testing.T) {
	f, _ := newTestFetcher(t, testFetcherConfig())

	_, err := f.Fetch(context.Background(), "ftp://example.com/file", nil)
	if !errors.Is(err, types.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
}

func TestHTTPFetcherContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.Write([]byte("too late"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, testFetcherConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL, nil)
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled fetch should not wait out retries")
	}
}

// --- Cache Tests ---

func TestHTTPFetcherCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("<html>cached page</html>"))
	}))
	defer srv.Close()

	cfg := testFetcherConfig()
	cfg.CacheTTL = time.Minute
	f, metrics := newTestFetcher(t, cfg)

	for i := 0; i < 3; i++ {
		resp, err := f.Fetch(context.Background(), srv.URL, nil)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if resp.Text() != "<html>cached page</html>" {
			t.Errorf("fetch %d: unexpected body %q", i, resp.Text())
		}
	}

	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream request, got %d", calls.Load())
	}
	if n := metrics.CacheHits.Load(); n != 2 {
		t.Errorf("expected 2 cache hits, got %d", n)
	}
}

func TestResponseCacheExpiry(t *testing.T) {
	c := newResponseCache(10 * time.Millisecond)
	c.put("u", &types.Response{Body: []byte("x")})

	if _, ok := c.get("u"); !ok {
		t.Fatal("expected fresh entry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get("u"); ok {
		t.Error("expected entry to expire")
	}
	if c.len() != 0 {
		t.Errorf("expected expired entry evicted, len=%d", c.len())
	}
}

func TestResponseCacheDisabled(t *testing.T) {
	c := newResponseCache(0)
	c.put("u", &types.Response{Body: []byte("x")})
	if _, ok := c.get("u"); ok {
		t.Error("zero TTL cache should never hit")
	}
}

// --- Helper Tests ---

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		params  url.Values
		want    string
		wantErr bool
	}{
		{
			name:   "no params",
			rawURL: "https://example.com/catalog",
			want:   "https://example.com/catalog",
		},
		{
			name:   "params appended",
			rawURL: "https://example.com/search",
			params: url.Values{"q": {"nike"}},
			want:   "https://example.com/search?q=nike",
		},
		{
			name:   "params merged with existing query",
			rawURL: "https://example.com/search?page=2",
			params: url.Values{"q": {"nike"}},
			want:   "https://example.com/search?page=2&q=nike",
		},
		{
			name:    "unsupported scheme",
			rawURL:  "ftp://example.com",
			wantErr: true,
		},
		{
			name:    "garbage",
			rawURL:  "://nope",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildURL(tt.rawURL, tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{"999", 120 * time.Second},
		{"garbage", 5 * time.Second},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.header); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}

	// HTTP-date in the past collapses to a minimal wait.
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(past); got != time.Second {
		t.Errorf("past HTTP-date: got %v, want 1s", got)
	}
}

func TestIsBlockedPage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"captcha marker", "<html>please enter the CAPTCHA</html>", true},
		{"cloudflare challenge", `<script src="/__cf_chl_js"></script>`, true},
		{"russian block text", "<html>Мы зафиксировали запросы с вашего устройства</html>", true},
		{"regular page", "<html><body>товары</body></html>", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isBlockedPage([]byte(tt.body)); got != tt.want {
				t.Errorf("isBlockedPage = %v, want %v", got, tt.want)
			}
		})
	}

	// Large bodies are assumed to be real content even if a marker appears.
	big := make([]byte, 100*1024)
	copy(big, []byte("captcha"))
	if isBlockedPage(big) {
		t.Error("large body should not be treated as a block page")
	}
}

func TestRandomDelayBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		d := RandomDelay(base)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("delay %v outside ±25%% of %v", d, base)
		}
	}
}

func TestNextUserAgentRotation(t *testing.T) {
	cfg := testFetcherConfig()
	cfg.UserAgents = []string{"ua-one", "ua-two"}
	f, _ := newTestFetcher(t, cfg)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		seen[f.nextUserAgent()] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected both user agents in rotation, got %v", seen)
	}
}
