// Package fetch downloads remote images for the URL ingestion path.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bgremover/internal/domain"
)

// Image is a fetched body with the metadata the stager needs.
type Image struct {
	Data        []byte
	ContentType string
}

// Fetcher is the contract the orchestrator depends on.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Image, error)
}

// HTTPFetcher implements Fetcher with net/http.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher with the given timeout and body cap.
// A non-positive maxBytes disables the cap.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// WithClient swaps the underlying client, for tests.
func (f *HTTPFetcher) WithClient(c *http.Client) *HTTPFetcher {
	f.client = c
	return f
}

// Fetch downloads rawURL fully into memory. Transport failures and non-2xx
// statuses are reported as ErrUpstreamFetch.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, domain.NewError(domain.ErrUpstreamFetch, fmt.Sprintf("Failed to fetch image: invalid URL %q", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.Wrap(domain.ErrUpstreamFetch, "Failed to fetch image: "+err.Error(), err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.ErrUpstreamFetch, "Failed to fetch image: "+err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewError(domain.ErrUpstreamFetch, "Failed to fetch image: "+statusText(resp))
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, domain.Wrap(domain.ErrUpstreamFetch, "Failed to fetch image: "+err.Error(), err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, domain.NewError(domain.ErrUpstreamFetch, fmt.Sprintf("Failed to fetch image: body exceeds %d bytes", f.maxBytes))
	}

	return &Image{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}

var _ Fetcher = (*HTTPFetcher)(nil)
