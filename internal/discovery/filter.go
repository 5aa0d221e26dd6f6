package discovery

import (
	"net/url"
	"path"
	"strings"

	"github.com/sells-group/news-pipeline/internal/scrape"
)

// assetExtensions never point at article pages.
var assetExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {}, ".rss": {},
	".pdf": {}, ".zip": {}, ".gz": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".woff": {}, ".woff2": {}, ".ttf": {},
}

// fixedSubstrings are non-content markers matched anywhere in the URL.
var fixedSubstrings = []string{
	"/wp-content/", "/wp-admin/", "/wp-includes/",
	"?page=", "&page=", "?start=", "&start=",
	"/account", "/share?", "/print/",
}

// Filter drops links that cannot be news articles: non-web schemes, bare
// fragments, asset files, pagination and listing pages, and links back to
// the homepage itself. Kept links lose their fragment and are deduplicated
// in first-seen order.
type Filter struct {
	paths *scrape.PathMatcher
}

// NewFilter creates a Filter with the given path exclude patterns in
// addition to the fixed rules.
func NewFilter(excludePatterns []string) *Filter {
	return &Filter{paths: scrape.NewPathMatcher(excludePatterns)}
}

// Apply returns the subset of links worth tracking for homepage.
func (f *Filter) Apply(homepage string, links []string) []string {
	self := normalizeForCompare(homepage)
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, raw := range links {
		link, ok := f.keep(raw)
		if !ok {
			continue
		}
		if normalizeForCompare(link) == self {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

// keep reports whether raw passes the fixed rules and returns it without its
// fragment.
func (f *Filter) keep(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	if u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	link := u.String()

	lower := strings.ToLower(link)
	for _, s := range fixedSubstrings {
		if strings.Contains(lower, s) {
			return "", false
		}
	}
	if _, asset := assetExtensions[strings.ToLower(path.Ext(u.Path))]; asset {
		return "", false
	}
	if f.paths.IsExcluded(link) {
		return "", false
	}
	return link, true
}

// normalizeForCompare reduces a URL to host and path so that
// "https://www.example.com/" and "http://example.com" compare equal.
func normalizeForCompare(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	p := strings.TrimSuffix(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return host + p
}
