package fetcher

import (
	"net/http"
	"strings"
)

// applyBrowserHeaders sets a Chrome-like desktop header profile on the
// request. The storefront serves a degraded or blocked page to clients that
// do not look like a real browser.
func applyBrowserHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8,kk;q=0.7")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Cache-Control", "max-age=0")
	req.Header.Set("Sec-Ch-Ua", `"Chromium";v="122", "Not(A:Brand";v="24", "Google Chrome";v="122"`)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"Windows"`)
}

// blockMarkers are substrings that identify anti-bot interstitials and
// access-denied pages. Matched case-insensitively against small responses.
var blockMarkers = []string{
	"captcha",
	"__cf_chl_",
	"access denied",
	"запросы с вашего устройства",
	"подозрительная активность",
	"are you a robot",
}

// isBlockedPage reports whether the body looks like an anti-bot wall rather
// than a content page. Only small bodies are considered: a real catalog page
// is far larger than any interstitial.
func isBlockedPage(body []byte) bool {
	if len(body) == 0 || len(body) > 64*1024 {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
