package extraction

import (
	"strings"

	"github.com/sells-group/news-pipeline/internal/model"
)

// ResolveHomepage finds the registry entry a link belongs to. An exact match
// wins, then the longest homepage the link starts with, then a homepage that
// starts with the link. Nil when nothing matches.
func ResolveHomepage(link string, homepages []model.Homepage) *model.Homepage {
	key := homepageKey(link)
	if key == "" {
		return nil
	}

	for i := range homepages {
		if homepageKey(homepages[i].URL) == key {
			return &homepages[i]
		}
	}

	var best *model.Homepage
	bestLen := 0
	for i := range homepages {
		hp := homepageKey(homepages[i].URL)
		if hp != "" && hasPathPrefix(key, hp) && len(hp) > bestLen {
			best = &homepages[i]
			bestLen = len(hp)
		}
	}
	if best != nil {
		return best
	}

	for i := range homepages {
		hp := homepageKey(homepages[i].URL)
		if hp != "" && hasPathPrefix(hp, key) {
			return &homepages[i]
		}
	}
	return nil
}

func homepageKey(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	return strings.TrimRight(u, "/")
}

// hasPathPrefix reports whether s starts with prefix at a path boundary, so
// "https://a.com" does not claim "https://a.com.evil".
func hasPathPrefix(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	if len(s) == len(prefix) {
		return true
	}
	switch s[len(prefix)] {
	case '/', '?', '#':
		return true
	}
	return false
}
