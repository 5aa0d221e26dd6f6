// Package scrape lists links on homepages and fetches article pages through a
// chain of link-extraction services, ending in a local HTTP fetch.
package scrape

import (
	"context"
	"errors"

	"github.com/sells-group/news-pipeline/internal/resilience"
	"github.com/sells-group/news-pipeline/pkg/firecrawl"
	"github.com/sells-group/news-pipeline/pkg/jina"
)

// Page is a fetched article page.
type Page struct {
	URL        string
	Title      string
	Content    string // markdown or plain text
	StatusCode int
	Source     string // e.g. "jina", "firecrawl", "local_http"
}

// Fetcher fetches a single URL and returns its readable content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Name() string
}

// LinkLister returns the outbound links found on a page.
type LinkLister interface {
	ListLinks(ctx context.Context, url string) ([]string, error)
	Name() string
}

// classifyHTTP converts service status errors into resilience.TransientError
// when the status code is worth retrying, so callers can tell rate limits and
// timeouts apart from permanent failures.
func classifyHTTP(err error) error {
	if err == nil {
		return nil
	}
	var jErr *jina.APIError
	if errors.As(err, &jErr) && resilience.IsTransientHTTPStatus(jErr.StatusCode) {
		return resilience.NewTransientError(err, jErr.StatusCode)
	}
	var fErr *firecrawl.APIError
	if errors.As(err, &fErr) && resilience.IsTransientHTTPStatus(fErr.StatusCode) {
		return resilience.NewTransientError(err, fErr.StatusCode)
	}
	return err
}
