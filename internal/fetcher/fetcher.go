package fetcher

import (
	"context"
	"net/url"

	"github.com/akoreshkov/modaflow/internal/types"
)

// Fetcher is the interface for all fetch implementations. A single instance
// is shared read-only across concurrent fetches.
type Fetcher interface {
	// Fetch retrieves the content at url, with optional query parameters.
	Fetch(ctx context.Context, rawURL string, params url.Values) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}
