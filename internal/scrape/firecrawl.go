package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/news-pipeline/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as a Fetcher and LinkLister.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter creates a FirecrawlAdapter from a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Fetch scrapes a single URL as markdown, main content only.
func (f *FirecrawlAdapter) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             targetURL,
		Formats:         []string{firecrawl.FormatMarkdown},
		OnlyMainContent: true,
	})
	if err != nil {
		return nil, classifyHTTP(err)
	}
	if !resp.Success {
		return nil, eris.Errorf("firecrawl: scrape not successful: %s", resp.Error)
	}

	pageURL := resp.Data.Metadata.PageURL()
	if pageURL == "" {
		pageURL = targetURL
	}
	return &Page{
		URL:        pageURL,
		Title:      resp.Data.Metadata.Title,
		Content:    resp.Data.Markdown,
		StatusCode: resp.Data.Metadata.StatusCode,
		Source:     "firecrawl",
	}, nil
}

// ListLinks scrapes the page in the "links" format.
func (f *FirecrawlAdapter) ListLinks(ctx context.Context, pageURL string) ([]string, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     pageURL,
		Formats: []string{firecrawl.FormatLinks},
	})
	if err != nil {
		return nil, classifyHTTP(err)
	}
	if !resp.Success {
		return nil, eris.Errorf("firecrawl: links scrape not successful: %s", resp.Error)
	}
	return resp.Data.Links, nil
}
