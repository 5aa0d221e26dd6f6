package scrape

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"

	"github.com/sells-group/news-pipeline/internal/resilience"
)

const maxLocalBody = 512 * 1024

// LocalScraper fetches HTML directly over HTTP. Link listing walks anchors
// with goquery; page fetching runs readability over the document. It is the
// last link in both chains and makes no paid API calls.
type LocalScraper struct {
	client *http.Client
}

var (
	_ Fetcher    = (*LocalScraper)(nil)
	_ LinkLister = (*LocalScraper)(nil)
)

// NewLocalScraper creates a LocalScraper. A non-positive timeout uses 15s.
func NewLocalScraper(timeout time.Duration) *LocalScraper {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LocalScraper{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (l *LocalScraper) Name() string { return "local_http" }

// get fetches a page body, rejecting blocked and error responses.
func (l *LocalScraper) get(ctx context.Context, targetURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; NewsPipeline/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLocalBody))
	if err != nil {
		return nil, nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, nil, eris.Errorf("local_http: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		return nil, nil, classifyStatus(resp.StatusCode)
	}
	return resp, body, nil
}

// ListLinks returns every anchor href on the page resolved against the page
// URL, in document order without duplicates.
func (l *LocalScraper) ListLinks(ctx context.Context, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse url")
	}

	resp, body, err := l.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	return anchorLinks(body, base)
}

// anchorLinks parses HTML and resolves each a[href] against base.
func anchorLinks(body []byte, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse html")
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links, nil
}

// Fetch downloads a page and extracts its main article text.
func (l *LocalScraper) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse url")
	}

	resp, body, err := l.get(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) < 100 {
		return nil, eris.New("local_http: empty page")
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: readability")
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, eris.New("local_http: no readable content")
	}

	return &Page{
		URL:        targetURL,
		Title:      strings.TrimSpace(article.Title),
		Content:    text,
		StatusCode: resp.StatusCode,
		Source:     "local_http",
	}, nil
}

func classifyStatus(code int) error {
	err := eris.Errorf("local_http: status %d", code)
	if resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(err, code)
	}
	return err
}
