package types

import (
	"bytes"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Response is a fetched page handed to the extraction engine.
type Response struct {
	// URL is the request URL.
	URL string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Headers are the response HTTP headers.
	Headers http.Header

	// Body is the raw (decompressed) response body.
	Body []byte

	// ContentType is the MIME type of the response.
	ContentType string

	// FinalURL is the URL after any redirects.
	FinalURL string

	// FetchDuration is how long the fetch took.
	FetchDuration time.Duration

	// FetchedAt is when this response was received.
	FetchedAt time.Time

	// Doc is a parsed goquery document (lazily loaded).
	Doc *goquery.Document
}

// Document returns a parsed goquery document, lazily initializing it.
// Bodies in legacy encodings are converted to UTF-8 first, keyed off the
// Content-Type charset.
func (r *Response) Document() (*goquery.Document, error) {
	if r.Doc != nil {
		return r.Doc, nil
	}
	body, err := charset.NewReader(bytes.NewReader(r.Body), r.ContentType)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}
	r.Doc = doc
	return doc, nil
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// BaseURL returns the URL extraction should resolve relative links against.
func (r *Response) BaseURL() string {
	if r.FinalURL != "" {
		return r.FinalURL
	}
	return r.URL
}

// IsSuccess returns true if the response status is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsClientError returns true if the response status is 4xx.
func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the response status is 5xx.
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}
