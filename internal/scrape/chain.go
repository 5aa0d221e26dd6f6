package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FetchChain tries fetchers in priority order, returning the first page with
// usable content.
type FetchChain struct {
	PathMatcher *PathMatcher
	fetchers    []Fetcher
}

var _ Fetcher = (*FetchChain)(nil)

// NewFetchChain creates a FetchChain. A nil matcher excludes nothing.
func NewFetchChain(matcher *PathMatcher, fetchers ...Fetcher) *FetchChain {
	return &FetchChain{PathMatcher: matcher, fetchers: fetchers}
}

func (c *FetchChain) Name() string { return "chain" }

// Fetch tries each fetcher in order for a single URL. When every fetcher
// fails the last error is returned so its classification survives.
func (c *FetchChain) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if c.PathMatcher != nil && c.PathMatcher.IsExcluded(targetURL) {
		return nil, eris.Errorf("scrape: url excluded by path matcher: %s", targetURL)
	}

	var lastErr error
	for _, f := range c.fetchers {
		page, err := f.Fetch(ctx, targetURL)
		if err == nil && page != nil && strings.TrimSpace(page.Content) != "" {
			return page, nil
		}
		if err == nil {
			err = eris.Errorf("%s: empty page", f.Name())
		}
		zap.L().Debug("scrape: fetcher failed, trying next",
			zap.String("fetcher", f.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all fetchers failed")
	}
	return nil, eris.Errorf("scrape: no fetcher configured for url: %s", targetURL)
}

// LinkChain tries link listers in priority order. A lister that succeeds with
// zero links does not stop the chain; the next lister gets a chance.
type LinkChain struct {
	listers []LinkLister
}

var _ LinkLister = (*LinkChain)(nil)

// NewLinkChain creates a LinkChain.
func NewLinkChain(listers ...LinkLister) *LinkChain {
	return &LinkChain{listers: listers}
}

func (c *LinkChain) Name() string { return "chain" }

// ListLinks returns the first non-empty link list. An empty result from every
// lister is not an error.
func (c *LinkChain) ListLinks(ctx context.Context, pageURL string) ([]string, error) {
	var lastErr error
	succeeded := false
	for _, l := range c.listers {
		links, err := l.ListLinks(ctx, pageURL)
		if err != nil {
			zap.L().Debug("scrape: link lister failed, trying next",
				zap.String("lister", l.Name()),
				zap.String("url", pageURL),
				zap.Error(err),
			)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		succeeded = true
		if len(links) > 0 {
			return links, nil
		}
	}
	if succeeded {
		return nil, nil
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all link listers failed")
	}
	return nil, eris.Errorf("scrape: no link lister configured for url: %s", pageURL)
}
