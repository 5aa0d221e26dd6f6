package scrape

import (
	"net/url"
	"path"
	"strings"
)

// PathMatcher filters URLs based on glob-style path patterns. A pattern
// matches at any segment boundary, so "/tag/*" excludes both "/tag/x" and
// "/world/tag/x". Patterns ending in "/*" also match deeper paths.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns (e.g. "/tag/*",
// "/search*"). Patterns are lowercased; empty entries are dropped.
func NewPathMatcher(patterns []string) *PathMatcher {
	m := &PathMatcher{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		m.patterns = append(m.patterns, p)
	}
	return m
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded checks whether a URL matches any exclude pattern. Unparseable
// URLs are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return m.isPathExcluded(u.Path)
}

func (m *PathMatcher) isPathExcluded(urlPath string) bool {
	if len(m.patterns) == 0 {
		return false
	}
	urlPath = strings.ToLower(urlPath)
	for _, sub := range subPaths(urlPath) {
		for _, pattern := range m.patterns {
			if matchSegmented(pattern, sub) {
				return true
			}
		}
	}
	return false
}

// subPaths returns p and every suffix of p that starts at a "/".
// "/a/b/c" yields "/a/b/c", "/b/c", "/c".
func subPaths(p string) []string {
	out := []string{p}
	for i := 1; i < len(p); i++ {
		if p[i] == '/' && i+1 < len(p) {
			out = append(out, p[i:])
		}
	}
	return out
}

// matchSegmented performs glob matching where a pattern like "/tag/*"
// matches both "/tag/post" and "/tag/deep/nested/path".
func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/") {
			return true
		}
	}

	// "/search*" should also match "/search/q".
	if strings.HasSuffix(pattern, "*") && !strings.ContainsAny(strings.TrimSuffix(pattern, "*"), "*?[") {
		return strings.HasPrefix(urlPath, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
