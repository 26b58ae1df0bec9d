package parser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher downloads pages for the static session.
type CollyFetcher struct {
	userAgent string
	timeout   time.Duration
	transport http.RoundTripper
}

func NewCollyFetcher(userAgent string, timeout time.Duration) *CollyFetcher {
	return &CollyFetcher{
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// WithTransport swaps the HTTP transport, e.g. for a mock in tests.
func (f *CollyFetcher) WithTransport(rt http.RoundTripper) *CollyFetcher {
	f.transport = rt
	return f
}

func (f *CollyFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.AllowURLRevisit(),
	)
	if f.timeout > 0 {
		c.SetRequestTimeout(f.timeout)
	}
	if f.transport != nil {
		c.WithTransport(f.transport)
	}

	var page *Page
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		page = &Page{URL: r.Request.URL.String(), Body: r.Body}
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
	})

	if err := c.Visit(url); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if page == nil {
		return nil, fmt.Errorf("no response for %s", url)
	}
	return page, nil
}

// SnapshotFetcher serves the same saved page for every URL.
type SnapshotFetcher []byte

func (f SnapshotFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Page{URL: url, Body: f}, nil
}
