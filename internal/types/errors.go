package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout       = errors.New("request timed out")
	ErrMaxRetries    = errors.New("max retries exceeded")
	ErrBlocked       = errors.New("blocked by anti-bot protection")
	ErrEmptyResponse = errors.New("empty response body")
	ErrInvalidURL    = errors.New("invalid URL")
	ErrNoListings    = errors.New("no listings extracted")
	ErrRunNotFound   = errors.New("import run not found")
	ErrNoStore       = errors.New("no catalog store configured")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ExtractError wraps errors that occur inside an extraction strategy.
type ExtractError struct {
	URL      string
	Strategy string
	Err      error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract error for %s (strategy=%s): %v", e.URL, e.Strategy, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// EnrichError wraps errors from the enrichment collaborator. Never fatal to
// a run; callers degrade to the template fallback and record a warning.
type EnrichError struct {
	Field string
	Err   error
}

func (e *EnrichError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("enrich error (field=%s): %v", e.Field, e.Err)
	}
	return fmt.Sprintf("enrich error: %v", e.Err)
}

func (e *EnrichError) Unwrap() error { return e.Err }

// StoreError wraps errors from the catalog store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error (%s): %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// PipelineError wraps errors raised by a processing stage, tagged with the
// stage name so outcomes can say where a candidate died.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
